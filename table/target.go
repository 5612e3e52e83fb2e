package table

import (
	"github.com/ledgerwatch/xtc/blob"
	"github.com/ledgerwatch/xtc/xterr"
)

// mapTarget classifies a caller-provided RuleSpec's target name into a
// RuleKind, resolving a jump target chain.
// It returns xterr.KindNone on success; callers wrap the returned Kind in
// an *xterr.Error tagged with their own Op, since map_target is shared by
// insert/append/replace (which create rules) and delete/check (which
// only compare targets).
func (h *Handle) mapTarget(spec RuleSpec) (RuleKind, *Chain, int32, xterr.Kind) {
	switch spec.TargetName {
	case "":
		return RuleFallThrough, nil, 0, xterr.KindNone
	case LabelAccept:
		return RuleStandard, nil, blob.VerdictAccept, xterr.KindNone
	case LabelDrop:
		return RuleStandard, nil, blob.VerdictDrop, xterr.KindNone
	case LabelQueue:
		return RuleStandard, nil, blob.VerdictQueue, xterr.KindNone
	case LabelReturn:
		return RuleStandard, nil, blob.VerdictReturn, xterr.KindNone
	}
	if len(spec.TargetName) > blob.ChainNameMax {
		return 0, nil, 0, xterr.KindNameTooLong
	}
	if target := h.findChainByLabel(spec.TargetName); target != nil {
		if target.kind == ChainBuiltin {
			return 0, nil, 0, xterr.KindInvalidRule
		}
		return RuleJump, target, 0, xterr.KindNone
	}
	return RuleModule, nil, 0, xterr.KindNone
}

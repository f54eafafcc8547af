package importer

import (
	"github.com/zyliufeng123/zhiguan-system/internal/domain"
)

// Action is the decision the conflict policy takes for one incoming value.
type Action int

const (
	ActionInsert Action = iota
	ActionSkip
	ActionUpdate
)

// ResolveConflict decides what to do with an incoming value given any
// existing record for the same (product, company, month). A nil existing
// record always inserts; an existing record is overwritten only under
// overwrite mode, every other mode skips.
func ResolveConflict(existing *domain.PriceRec, mode domain.ConflictMode) Action {
	if existing == nil {
		return ActionInsert
	}
	if mode == domain.ConflictOverwrite {
		return ActionUpdate
	}
	return ActionSkip
}

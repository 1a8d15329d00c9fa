// internal/service/reconcile/summary.go
package reconcile

import (
	"time"

	xerrors "netbill-service/internal/pkg/errors"
	"netbill-service/internal/service/lifecycle"

	"go.uber.org/zap"
)

type Failure struct {
	Username  string `json:"username"`
	Operation string `json:"operation"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// Summary reports the outcome of one pass.
type Summary struct {
	PassID     string    `json:"pass_id"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Restored  int `json:"restored"`
	Renewed   int `json:"renewed"`
	Suspended int `json:"suspended"`
	Grace     int `json:"grace"`
	Recreated int `json:"recreated"`
	Corrected int `json:"corrected"`
	Pruned    int `json:"pruned"`
	Skipped   int `json:"skipped"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`

	Unreached []string  `json:"unreached,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (s *Summary) record(res result) {
	switch {
	case res.skipped:
		s.Skipped++
		return
	case res.failed:
		s.Failed++
		return
	}

	switch res.action {
	case lifecycle.ActionRestore:
		s.Restored++
	case lifecycle.ActionRenew:
		s.Renewed++
	case lifecycle.ActionSuspend:
		s.Suspended++
	case lifecycle.ActionEnterGrace:
		s.Grace++
	}
	if res.recreated {
		s.Recreated++
	}
	if res.corrected {
		s.Corrected++
	}
	if !res.action.ChangesStatus() && !res.recreated && !res.corrected {
		s.Unchanged++
	}
}

func (s *Summary) addFailure(username, operation string, err error) {
	s.Failures = append(s.Failures, Failure{
		Username:  username,
		Operation: operation,
		Kind:      xerrors.Kind(err),
		Message:   err.Error(),
	})
}

// Mutations is the number of router or database changes the pass made.
func (s *Summary) Mutations() int {
	return s.Restored + s.Renewed + s.Suspended + s.Grace + s.Recreated + s.Corrected + s.Pruned
}

func (s *Summary) Counts() map[string]interface{} {
	return map[string]interface{}{
		"pass_id":   s.PassID,
		"mode":      string(s.Mode),
		"restored":  s.Restored,
		"renewed":   s.Renewed,
		"suspended": s.Suspended,
		"grace":     s.Grace,
		"recreated": s.Recreated,
		"corrected": s.Corrected,
		"pruned":    s.Pruned,
		"skipped":   s.Skipped,
		"unchanged": s.Unchanged,
		"failed":    s.Failed,
		"unreached": len(s.Unreached),
	}
}

func (s *Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("restored", s.Restored),
		zap.Int("renewed", s.Renewed),
		zap.Int("suspended", s.Suspended),
		zap.Int("grace", s.Grace),
		zap.Int("recreated", s.Recreated),
		zap.Int("corrected", s.Corrected),
		zap.Int("pruned", s.Pruned),
		zap.Int("skipped", s.Skipped),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("failed", s.Failed),
		zap.Int("unreached", len(s.Unreached)),
		zap.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
	}
}

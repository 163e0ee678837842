package assessment

import (
	"context"

	"github.com/hrygo/assessment/plugin/assessment/module"
	"github.com/hrygo/assessment/store"
)

// progressReporter is implemented by modules that can count their answered questions.
type progressReporter interface {
	Progress(st *module.State) (int, int)
}

// Progress implements Service.
func (m *Moderator) Progress(ctx context.Context, sessionID, subjectID string) (*Progress, error) {
	session, err := m.load(ctx, sessionID, subjectID, true)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		SessionID:     session.ID,
		Phase:         m.phaseOf(session),
		TotalModules:  len(m.pipeline.Sequence),
		CurrentModule: session.CurrentModule,
		Modules:       make([]ModuleProgress, 0, len(m.pipeline.Sequence)),
	}
	if !session.IsClosed() {
		p.NextModule = m.pipeline.Next(session.CurrentModule)
	}

	results := resultsOf(session)
	for _, id := range m.pipeline.Sequence {
		mod, _ := m.pipeline.Module(id)
		info := mod.Info()
		mp := ModuleProgress{ID: id, Name: info.Name, Kind: string(info.Kind)}

		// Read the stored state directly; the loaded session may be shared.
		st := &module.State{SessionID: session.ID, SubjectID: session.SubjectID, Data: session.ModuleStates[id], Results: results}
		if reporter, ok := mod.(progressReporter); ok {
			mp.Answered, mp.Questions = reporter.Progress(st)
		}

		switch {
		case id == session.CurrentModule && session.Status == store.SessionStatusActive:
			mp.Status = ModuleInProgress
		case session.HasResult(id) || session.InHistory(id):
			mp.Status = ModuleCompleted
			p.CompletedCount++
		default:
			if missing := m.pipeline.Validator.Missing(id, session); len(missing) > 0 {
				mp.Status = ModuleBlocked
				mp.Missing = missing
			} else {
				mp.Status = ModulePending
			}
		}
		p.Modules = append(p.Modules, mp)
	}
	if p.TotalModules > 0 {
		p.Percentage = float64(p.CompletedCount) * 100 / float64(p.TotalModules)
	}
	return p, nil
}

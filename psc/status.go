package main

import (
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gopsc/pkg/controller"
	"github.com/itohio/gopsc/pkg/scope"
)

// createStatusBar creates the label row shown below the scope.
func createStatusBar(state *appState) fyne.CanvasObject {
	state.phaseLabel = widget.NewLabel("Phase: -")
	state.formationLabel = widget.NewLabel("Formation: -")
	state.unlockLabel = widget.NewLabel("Unlock: -")
	state.syncLabel = widget.NewLabel("Sync: -")

	return container.NewHBox(
		state.phaseLabel,
		state.formationLabel,
		state.unlockLabel,
		state.syncLabel,
	)
}

// updateStatus refreshes the scope trace and the status labels from an
// aggregate status. Must be called on the UI goroutine via fyne.Do().
func updateStatus(state *appState, st controller.Status) {
	state.scopeWidget.AddPoint(scope.TracePoint{
		Timestamp: time.Now(),
		Z:         st.Snapshot.Z,
		Kappa:     st.Formation.Current.Kappa,
		R:         st.Kuramoto.OrderParameter,
	})
	state.scopeWidget.SetLabel(fmt.Sprintf("z=%.3f  κ=%.3f  r=%.3f  B=%.1fµT",
		st.Snapshot.Z, st.Formation.Current.Kappa, st.Kuramoto.OrderParameter, st.Snapshot.Magnetic))

	state.phaseLabel.SetText(fmt.Sprintf("Phase: %s (tier %d)",
		st.Phase.Current, st.Phase.Tier))

	if st.Formation.Active {
		state.formationLabel.SetText(fmt.Sprintf("Formation: active %.1fs (total %d)",
			st.Formation.Duration.Seconds(), st.Formation.TotalFormations))
	} else {
		state.formationLabel.SetText(fmt.Sprintf("Formation: - (total %d)",
			st.Formation.TotalFormations))
	}

	state.unlockLabel.SetText(fmt.Sprintf("Unlock: %s (%d/%d)",
		st.Unlock.State, st.Unlock.CrossingCount, state.cfg.Unlock.PassesRequired))

	if st.Kuramoto.Synchronized {
		state.syncLabel.SetText(fmt.Sprintf("Sync: locked r=%.3f f=%.1fHz",
			st.Kuramoto.OrderParameter, st.Kuramoto.ReferenceFrequency))
	} else {
		state.syncLabel.SetText(fmt.Sprintf("Sync: - r=%.3f f=%.1fHz",
			st.Kuramoto.OrderParameter, st.Kuramoto.ReferenceFrequency))
	}
}

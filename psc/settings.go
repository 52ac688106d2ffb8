package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gopsc/pkg/field"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createPhaseTab(state),
		createFormationTab(state),
		createUnlockTab(state),
		createKuramotoTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// saveConfig persists the configuration, showing a dialog on failure.
func saveConfig(state *appState) {
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

// parseFloat32 parses an entry value, returning ok=false on bad input.
func parseFloat32(text string) (float32, bool) {
	v, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	// Get available serial ports
	ports, err := field.Ports()
	portOptions := []string{}

	if err == nil {
		for _, port := range ports {
			portOptions = append(portOptions, port.Name)
		}
	}

	// Add current port if not in list
	currentPort := state.cfg.Serial.Port
	found := false
	for _, opt := range portOptions {
		if opt == currentPort {
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
	}

	portSelect := widget.NewSelect(portOptions, func(selected string) {
		// Selection handler - applied on submit
	})
	if currentPort != "" {
		portSelect.SetSelected(currentPort)
	}

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
		},
		OnSubmit: func() {
			if portSelect.Selected == "" {
				return
			}
			portChanged := state.cfg.Serial.Port != portSelect.Selected
			wasConnected := state.chain != nil

			state.cfg.Serial.Port = portSelect.Selected
			saveConfig(state)

			// If the port changed while connected, restart the chain
			if portChanged && wasConnected {
				closeChain(state.chain)
				state.chain = nil
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createPhaseTab creates the Phase engine configuration tab.
func createPhaseTab(state *appState) *container.TabItem {
	alphaEntry := widget.NewEntry()
	alphaEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Phase.Alpha))

	marginEntry := widget.NewEntry()
	marginEntry.SetText(fmt.Sprintf("%.3f", state.cfg.Phase.HysteresisMargin))

	stabilityEntry := widget.NewEntry()
	stabilityEntry.SetText(fmt.Sprintf("%.0f", float64(state.cfg.Phase.StabilityThreshold/time.Millisecond)))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "EMA Alpha", Widget: alphaEntry},
			{Text: "Hysteresis Margin", Widget: marginEntry},
			{Text: "Stability Threshold (ms)", Widget: stabilityEntry},
		},
		OnSubmit: func() {
			if v, ok := parseFloat32(alphaEntry.Text); ok {
				state.cfg.Phase.Alpha = v
			}
			if v, ok := parseFloat32(marginEntry.Text); ok {
				state.cfg.Phase.HysteresisMargin = v
			}
			if ms, err := strconv.Atoi(stabilityEntry.Text); err == nil {
				state.cfg.Phase.StabilityThreshold = time.Duration(ms) * time.Millisecond
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Phase", form)
}

// createFormationTab creates the Formation detector configuration tab.
func createFormationTab(state *appState) *container.TabItem {
	windowEntry := widget.NewEntry()
	windowEntry.SetText(fmt.Sprintf("%d", state.cfg.Formation.CoherenceWindow))

	kappaEntry := widget.NewEntry()
	kappaEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Formation.KappaThreshold))

	etaEntry := widget.NewEntry()
	etaEntry.SetText(fmt.Sprintf("%.4f", state.cfg.Formation.EtaThreshold))

	activityEntry := widget.NewEntry()
	activityEntry.SetText(fmt.Sprintf("%d", state.cfg.Formation.ActivityRequired))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Coherence Window", Widget: windowEntry},
			{Text: "Coherence Threshold (κ)", Widget: kappaEntry},
			{Text: "Negentropy Threshold (η)", Widget: etaEntry},
			{Text: "Active Sensors Required", Widget: activityEntry},
		},
		OnSubmit: func() {
			if n, err := strconv.Atoi(windowEntry.Text); err == nil {
				state.cfg.Formation.CoherenceWindow = n
			}
			if v, ok := parseFloat32(kappaEntry.Text); ok {
				state.cfg.Formation.KappaThreshold = v
			}
			if v, ok := parseFloat32(etaEntry.Text); ok {
				state.cfg.Formation.EtaThreshold = v
			}
			if n, err := strconv.Atoi(activityEntry.Text); err == nil {
				state.cfg.Formation.ActivityRequired = n
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Formation", form)
}

// createUnlockTab creates the Unlock sequencer configuration tab.
func createUnlockTab(state *appState) *container.TabItem {
	highEntry := widget.NewEntry()
	highEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Unlock.HighThreshold))

	lowEntry := widget.NewEntry()
	lowEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Unlock.LowThreshold))

	timeoutEntry := widget.NewEntry()
	timeoutEntry.SetText(fmt.Sprintf("%.0f", state.cfg.Unlock.SequenceTimeout.Seconds()))

	lockoutEntry := widget.NewEntry()
	lockoutEntry.SetText(fmt.Sprintf("%.0f", state.cfg.Unlock.LockoutDuration.Seconds()))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "High Threshold", Widget: highEntry},
			{Text: "Low Threshold", Widget: lowEntry},
			{Text: "Sequence Timeout (s)", Widget: timeoutEntry},
			{Text: "Lockout Duration (s)", Widget: lockoutEntry},
		},
		OnSubmit: func() {
			high, okHigh := parseFloat32(highEntry.Text)
			low, okLow := parseFloat32(lowEntry.Text)
			// The thresholds must stay ordered; reject the pair otherwise
			if okHigh && okLow && low < high {
				state.cfg.Unlock.HighThreshold = high
				state.cfg.Unlock.LowThreshold = low
			}
			if s, err := strconv.Atoi(timeoutEntry.Text); err == nil && s > 0 {
				state.cfg.Unlock.SequenceTimeout = time.Duration(s) * time.Second
			}
			if s, err := strconv.Atoi(lockoutEntry.Text); err == nil && s > 0 {
				state.cfg.Unlock.LockoutDuration = time.Duration(s) * time.Second
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Unlock", form)
}

// createKuramotoTab creates the Oscillator configuration tab.
func createKuramotoTab(state *appState) *container.TabItem {
	freqEntry := widget.NewEntry()
	freqEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Kuramoto.BaseFrequency))

	couplingEntry := widget.NewEntry()
	couplingEntry.SetText(fmt.Sprintf("%.4f", state.cfg.Kuramoto.BaseCoupling))

	syncEntry := widget.NewEntry()
	syncEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Kuramoto.SyncThreshold))

	sensitivityEntry := widget.NewEntry()
	sensitivityEntry.SetText(fmt.Sprintf("%.4f", state.cfg.Kuramoto.MagneticSensitivity))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Base Frequency (Hz)", Widget: freqEntry},
			{Text: "Base Coupling", Widget: couplingEntry},
			{Text: "Sync Threshold", Widget: syncEntry},
			{Text: "Magnetic Sensitivity (1/µT)", Widget: sensitivityEntry},
		},
		OnSubmit: func() {
			if v, ok := parseFloat32(freqEntry.Text); ok {
				state.cfg.Kuramoto.BaseFrequency = v
			}
			if v, ok := parseFloat32(couplingEntry.Text); ok {
				state.cfg.Kuramoto.BaseCoupling = v
			}
			if v, ok := parseFloat32(syncEntry.Text); ok {
				state.cfg.Kuramoto.SyncThreshold = v
			}
			if v, ok := parseFloat32(sensitivityEntry.Text); ok {
				state.cfg.Kuramoto.MagneticSensitivity = v
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Kuramoto", form)
}

// createMockTab creates the Mock device configuration tab.
func createMockTab(state *appState) *container.TabItem {
	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(fmt.Sprintf("%.3f", state.cfg.Mock.NoiseLevel))

	biasEntry := widget.NewEntry()
	biasEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Mock.Bias))

	surgePeriodEntry := widget.NewEntry()
	surgePeriodEntry.SetText(fmt.Sprintf("%.0f", state.cfg.Mock.SurgePeriod.Seconds()))

	surgeDurationEntry := widget.NewEntry()
	surgeDurationEntry.SetText(fmt.Sprintf("%.0f", state.cfg.Mock.SurgeDuration.Seconds()))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Noise Level", Widget: noiseEntry},
			{Text: "Bias", Widget: biasEntry},
			{Text: "Surge Period (s)", Widget: surgePeriodEntry},
			{Text: "Surge Duration (s)", Widget: surgeDurationEntry},
		},
		OnSubmit: func() {
			if v, ok := parseFloat32(noiseEntry.Text); ok {
				state.cfg.Mock.NoiseLevel = v
			}
			if v, ok := parseFloat32(biasEntry.Text); ok {
				state.cfg.Mock.Bias = v
			}
			if s, err := strconv.Atoi(surgePeriodEntry.Text); err == nil && s > 0 {
				state.cfg.Mock.SurgePeriod = time.Duration(s) * time.Second
			}
			if s, err := strconv.Atoi(surgeDurationEntry.Text); err == nil && s > 0 {
				state.cfg.Mock.SurgeDuration = time.Duration(s) * time.Second
			}
			saveConfig(state)
		},
	}

	return container.NewTabItem("Mock", form)
}

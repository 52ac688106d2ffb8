package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/gopsc/pkg/config"
	"github.com/itohio/gopsc/pkg/controller"
	"github.com/itohio/gopsc/pkg/field"
	"github.com/itohio/gopsc/pkg/formation"
	"github.com/itohio/gopsc/pkg/fuse"
	"github.com/itohio/gopsc/pkg/scope"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use mocked sensor hub instead of serial port")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	// Create Fyne application
	application := app.NewWithID("com.itohio.gopsc")

	// Create main window
	window := application.NewWindow("Phase & Synchronization Console")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	// Create the control core
	core := controller.New(cfg)

	// Create application state
	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		core:       core,
		window:     window,
		useMock:    *mockFlag,
	}

	// Event logging; the GUI reads everything else from Status()
	core.OnFormed(func(m formation.Metrics) {
		log.Printf("Formation: kappa=%.3f eta=%.3f active=%d", m.Kappa, m.Eta, m.Activity)
	})
	core.OnUnlock(func() {
		log.Printf("Unlock sequence completed")
	})
	core.OnSynchronized(func(r float32) {
		log.Printf("Oscillator network synchronized: r=%.3f", r)
	})

	// Create toolbar
	toolbar := createToolbar(state)

	// Create scope widget for the trace display
	scopeWidget := scope.New()
	state.scopeWidget = scopeWidget

	// Create the status bar shown below the scope
	statusBar := createStatusBar(state)

	content := container.NewBorder(
		toolbar,
		statusBar,
		nil,
		nil,
		scopeWidget,
	)

	window.SetContent(content)
	window.ShowAndRun()
}

// chain tracks the components of the processing chain for graceful
// shutdown.
type chain struct {
	device   field.Device
	cancel   context.CancelFunc
	runDone  chan struct{} // closed when the controller goroutine exits
	pollDone chan struct{} // closed when the status poll goroutine exits
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	configPath  string
	core        *controller.Controller
	scopeWidget *scope.Widget
	window      fyne.Window
	useMock     bool

	connectBtn *widget.Button
	unlockBtn  *widget.Button
	lockBtn    *widget.Button
	resetBtn   *widget.Button

	phaseLabel     *widget.Label
	formationLabel *widget.Label
	unlockLabel    *widget.Label
	syncLabel      *widget.Label

	chain *chain // current processing chain (nil if not connected)
}

// createToolbar creates the toolbar with Connect, Settings and the
// administrative override buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	unlockBtn := widget.NewButton("Force Unlock", func() {
		state.core.ForceUnlock()
	})
	unlockBtn.Disable()
	state.unlockBtn = unlockBtn

	lockBtn := widget.NewButton("Force Lock", func() {
		state.core.ForceLock()
	})
	lockBtn.Disable()
	state.lockBtn = lockBtn

	resetBtn := widget.NewButtonWithIcon("", theme.ViewRefreshIcon(), func() {
		state.core.Reset()
	})
	resetBtn.Disable()
	state.resetBtn = resetBtn

	return container.NewBorder(
		nil, // top
		nil, // bottom
		container.NewHBox(connectBtn, settingsBtn), // left
		container.NewHBox(unlockBtn, lockBtn, resetBtn), // right
		nil, // center (spacer)
	)
}

// closeChain gracefully closes the processing chain. Waits for the
// controller and poll goroutines to finish.
func closeChain(c *chain) {
	if c == nil {
		return
	}

	// Closing the device closes the frames channel; the converter then
	// closes the snapshot stream and the controller exits.
	if c.device != nil {
		c.device.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.runDone != nil {
		<-c.runDone
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.chain != nil {
		// Disconnect - gracefully close the processing chain
		closeChain(state.chain)
		state.chain = nil
		state.unlockBtn.Disable()
		state.lockBtn.Disable()
		state.resetBtn.Disable()
		if state.useMock {
			log.Println("Disconnected from mocked sensor hub")
		} else {
			log.Println("Disconnected from serial port")
		}
		return
	}

	// Connect
	var device field.Device
	if state.useMock {
		device = field.NewMock(&state.cfg.Mock)
	} else {
		device = field.New(state.cfg.Serial.Port, field.DefaultBaudRate, field.DefaultBufferSize)
	}

	if err := device.Connect(); err != nil {
		if state.useMock {
			dialog.ShowError(fmt.Errorf("failed to connect to mocked sensor hub: %w", err), state.window)
		} else {
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		}
		return
	}
	if state.useMock {
		log.Println("Connected to mocked sensor hub")
	} else {
		log.Printf("Connected to serial port: %s", state.cfg.Serial.Port)
	}

	state.unlockBtn.Enable()
	state.lockBtn.Enable()
	state.resetBtn.Enable()

	// Start from a clean control state on every connect
	state.core.Reset()
	state.core.SetOutputs(device)

	// Fuse raw frames into snapshots and run the control core on them
	snapshots := fuse.NewConverter(500)(device.Frames())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := state.core.Run(ctx, snapshots); err != nil && err != context.Canceled {
			log.Printf("Controller stopped: %v", err)
		}
	}()

	// Poll the aggregate status for the GUI
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := state.core.Status()
				fyne.Do(func() {
					updateStatus(state, st)
				})
			}
		}
	}()

	state.chain = &chain{
		device:   device,
		cancel:   cancel,
		runDone:  runDone,
		pollDone: pollDone,
	}
}

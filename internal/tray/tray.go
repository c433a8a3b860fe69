// Package tray provides a system tray menu for the mudra recorder.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onRecord   func(recording bool)
	onPause    func(paused bool) error
	onExport   func() (int, error)
	onSettings func()
	onQuit     func()
	recording  bool
	paused     bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuRecord *systray.MenuItem
	menuPause  *systray.MenuItem
	menuFrames *systray.MenuItem
	menuExport *systray.MenuItem
}

// New creates a new Tray. recording is the initial record state.
func New(recording bool) *Tray {
	return &Tray{recording: recording}
}

// OnRecord sets the callback invoked when recording is toggled.
func (t *Tray) OnRecord(fn func(recording bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecord = fn
}

// OnPause sets the callback invoked when the detectors are paused or
// resumed. A returned error leaves the state unchanged.
func (t *Tray) OnPause(fn func(paused bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPause = fn
}

// OnExport sets the callback invoked by the export menu item. It returns
// the number of exported frames.
func (t *Tray) OnExport(fn func() (int, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExport = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra pose and hand recorder")

	t.mu.Lock()
	t.menuRecord = systray.AddMenuItem(recordTitle(t.recording), "Start or stop recording landmarks")
	t.menuPause = systray.AddMenuItem(pauseTitle(t.paused), "Pause or resume the detectors")
	systray.AddSeparator()

	t.menuFrames = systray.AddMenuItem(framesTitle(0), "Frames in the current session")
	t.menuFrames.Disable()
	t.menuExport = systray.AddMenuItem("Export to Downloads", "Write the session as JSON")
	systray.AddSeparator()
	t.mu.Unlock()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	go func() {
		for {
			select {
			case <-t.menuRecord.ClickedCh:
				t.handleRecord()
			case <-t.menuPause.ClickedCh:
				t.handlePause()
			case <-t.menuExport.ClickedCh:
				t.handleExport()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func recordTitle(recording bool) string {
	if recording {
		return "● Recording"
	}
	return "○ Not recording"
}

func pauseTitle(paused bool) string {
	if paused {
		return "Resume detectors"
	}
	return "Pause detectors"
}

func framesTitle(n int) string {
	return fmt.Sprintf("Frames: %d", n)
}

func (t *Tray) handleRecord() {
	t.mu.Lock()
	t.recording = !t.recording
	recording := t.recording
	if t.menuRecord != nil {
		t.menuRecord.SetTitle(recordTitle(recording))
	}
	callback := t.onRecord
	t.mu.Unlock()

	// Outside the lock; callbacks may call back into the tray.
	if callback != nil {
		callback(recording)
	}
}

func (t *Tray) handlePause() {
	t.mu.RLock()
	next := !t.paused
	callback := t.onPause
	t.mu.RUnlock()

	if callback != nil {
		if err := callback(next); err != nil {
			return
		}
	}

	t.mu.Lock()
	t.paused = next
	if t.menuPause != nil {
		t.menuPause.SetTitle(pauseTitle(next))
	}
	t.mu.Unlock()
}

func (t *Tray) handleExport() {
	t.mu.RLock()
	callback := t.onExport
	t.mu.RUnlock()

	if callback == nil {
		return
	}
	title := "Export to Downloads"
	if n, err := callback(); err != nil {
		title = "Export failed, retry"
	} else {
		t.SetFrames(0)
		title = fmt.Sprintf("Exported %d frames", n)
	}

	t.mu.RLock()
	if t.menuExport != nil {
		t.menuExport.SetTitle(title)
	}
	t.mu.RUnlock()
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// SetFrames updates the frame counter display in the menu.
func (t *Tray) SetFrames(n int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuFrames != nil {
		t.menuFrames.SetTitle(framesTitle(n))
	}
}

// Recording returns the current record state.
func (t *Tray) Recording() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recording
}

// Paused returns whether the detectors were paused from the menu.
func (t *Tray) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}

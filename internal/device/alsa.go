// Package device enumerates audio devices for call.Controller.
package device

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"highwayhub/voice/internal/call"
	"highwayhub/voice/internal/errors"
	"highwayhub/voice/internal/log"
)

const (
	ErrPermission errors.Code = "audio devices not accessible"
	ErrEnumerate  errors.Code = "audio device enumeration failed"
	ErrWatch      errors.Code = "audio device watch failed"
)

const defaultDebounce = 300 * time.Millisecond

// pcmC<card>D<device><c|p>
var pcmNode = regexp.MustCompile(`^pcmC(\d+)D(\d+)([cp])$`)

// " 0 [PCH            ]: HDA-Intel - HDA Intel PCH"
var cardLine = regexp.MustCompile(`^\s*(\d+)\s+\[[^\]]*\]:\s*(.*)$`)

// ALSA lists PCM nodes under /dev/snd. Capture nodes are inputs, playback
// nodes are outputs; ids use the "hw:<card>,<device>" form.
type ALSA struct {
	DevDir    string
	CardsFile string
	// Debounce coalesces the burst of node events a plug or unplug makes.
	Debounce time.Duration
	Clock    clockwork.Clock
	Logger   *log.Logger

	mu      sync.Mutex
	granted bool
}

var _ call.DeviceSource = (*ALSA)(nil)

func NewALSA(logger *log.Logger) *ALSA {
	return &ALSA{
		DevDir:    "/dev/snd",
		CardsFile: "/proc/asound/cards",
		Debounce:  defaultDebounce,
		Clock:     clockwork.NewRealClock(),
		Logger:    logger,
	}
}

// RequestPermission checks that the device directory is readable. Until it
// is, Devices returns nodes without labels.
func (a *ALSA) RequestPermission(_ context.Context) error {
	f, err := os.Open(a.DevDir)
	if err != nil {
		return errors.Wrap(ErrPermission, err, a.DevDir)
	}
	_ = f.Close()

	a.mu.Lock()
	a.granted = true
	a.mu.Unlock()
	return nil
}

func (a *ALSA) Devices(_ context.Context) ([]call.Device, error) {
	entries, err := os.ReadDir(a.DevDir)
	if err != nil {
		return nil, errors.Wrap(ErrEnumerate, err, a.DevDir)
	}

	a.mu.Lock()
	granted := a.granted
	a.mu.Unlock()
	var labels map[int]string
	if granted {
		labels = a.cardLabels()
	}

	var out []call.Device
	for _, e := range entries {
		m := pcmNode.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		card, _ := strconv.Atoi(m[1])
		dev, _ := strconv.Atoi(m[2])
		d := call.Device{
			ID:   fmt.Sprintf("hw:%d,%d", card, dev),
			Kind: call.DeviceOutput,
		}
		if m[3] == "c" {
			d.Kind = call.DeviceInput
		}
		if l, ok := labels[card]; ok {
			d.Label = l
			if dev > 0 {
				d.Label = fmt.Sprintf("%s (%d)", l, dev)
			}
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// cardLabels reads card names from the cards file. A missing or unreadable
// file yields no labels.
func (a *ALSA) cardLabels() map[int]string {
	f, err := os.Open(a.CardsFile)
	if err != nil {
		a.Logger.Debug("Card names unavailable", log.Error(err))
		return nil
	}
	defer f.Close()

	labels := make(map[int]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := cardLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		name := m[2]
		if i := strings.Index(name, " - "); i >= 0 {
			name = name[i+3:]
		}
		labels[n] = strings.TrimSpace(name)
	}
	return labels
}

// Watch calls onChange once per burst of changes in the device directory.
func (a *ALSA) Watch(onChange func()) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(ErrWatch, err, "new watcher")
	}
	if err := w.Add(a.DevDir); err != nil {
		_ = w.Close()
		return nil, errors.Wrap(ErrWatch, err, a.DevDir)
	}

	debounce := a.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	done := make(chan struct{})
	go func() {
		var timer clockwork.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !pcmNode.MatchString(filepath.Base(ev.Name)) {
					continue
				}
				a.Logger.Debug("Device node changed", log.String("node", ev.Name), log.String("op", ev.Op.String()))
				if timer != nil {
					timer.Stop()
				}
				timer = a.Clock.AfterFunc(debounce, onChange)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				a.Logger.Warn("Device watch error", log.Error(err))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = w.Close()
		})
	}, nil
}

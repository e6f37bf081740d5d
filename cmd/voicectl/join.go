package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"highwayhub/voice/internal/audio"
	"highwayhub/voice/internal/call"
	"highwayhub/voice/internal/config"
	"highwayhub/voice/internal/log"
	"highwayhub/voice/internal/provision"
	"highwayhub/voice/internal/transport/ws"
)

// pcmWindow is 20ms at 16kHz, the rate --pcm input is paced at.
const pcmWindow = 20 * time.Millisecond

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join your voice channel and control it interactively",
	Long: `Join requests a room from the voice backend, joins it and reads commands
from stdin:

  mute | unmute          toggle the microphone
  input <id>             switch microphone (try "devices" for ids)
  output <id>            switch speaker
  devices                list devices, * marks the active ones
  who                    list participants with their audio level
  leave                  leave the channel
  quit                   leave and exit

With --pcm, 16kHz 16-bit mono PCM from the file (or - for stdin, which then
disables commands) drives the published microphone level.

Only servers running the hub provider can be joined: a room URL from the
daily provider is refused before any connection is made.`,
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
	f := joinCmd.Flags()
	f.String("backend", "http://localhost:8080", "voice API base URL")
	f.String("user", "", "your user id")
	f.String("name", "", "display name shown to others")
	f.Bool("owner", false, "join as room owner")
	f.String("pcm", "", "PCM file feeding the microphone level, - for stdin")
	f.Bool("no-devices", false, "skip audio device enumeration")
	for _, name := range []string{"backend", "user", "name", "owner", "pcm", "no-devices"} {
		_ = settings.BindPFlag(name, f.Lookup(name))
	}
}

func runJoin(cmd *cobra.Command, _ []string) error {
	user := settings.GetString("user")
	name := settings.GetString("name")
	if user == "" {
		return fmt.Errorf("--user is required")
	}
	if name == "" {
		name = user
	}

	cfg := config.Load()
	logger := newLogger()
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	transport := ws.New(logger.Module("transport"), nil)
	var devices call.DeviceSource
	if !settings.GetBool("no-devices") {
		devices = newDeviceSource()
	}
	rooms := hubRooms{provision.New(settings.GetString("backend"), user, logger.Module("provision"))}
	ctl := call.New(transport, rooms, devices, call.Options{
		DisplayName:    name,
		IsOwner:        settings.GetBool("owner"),
		LevelInterval:  cfg.Call.LevelInterval,
		LevelThreshold: cfg.Call.LevelThreshold,
		Logger:         logger.Module("call"),
		Notifier: call.NotifierFunc(func(n call.Notification) {
			msg := n.Message
			if n.Err != nil {
				msg += ": " + n.Err.Error()
			}
			fmt.Fprintf(out, "[%s] %s\n", n.Level, msg)
		}),
	})
	ctl.Initialize(ctx)
	defer ctl.Close()

	var mu sync.Mutex
	last := call.StateIdle
	unsubscribe := ctl.Subscribe(func(s call.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.State != last {
			last = s.State
			fmt.Fprintf(out, "-- %s\n", s.State)
		}
	})
	defer unsubscribe()

	if err := ctl.Join(ctx); err != nil {
		return err
	}

	pcm := settings.GetString("pcm")
	if pcm != "" {
		src, err := openPCM(pcm)
		if err != nil {
			return err
		}
		defer src.Close()
		go feedLevels(ctx, src, transport, logger)
	}

	var in io.Reader = cmd.InOrStdin()
	if pcm == "-" {
		in = nil
	}
	runCommands(ctx, in, out, ctl)

	if st := ctl.State(); st == call.StateJoined || st == call.StateJoining {
		lctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ctl.Leave(lctx); err != nil {
			return err
		}
		waitState(ctl, 5*time.Second, call.StateLeft, call.StateIdle)
	}
	return nil
}

// hubRooms refuses credentials whose room URL the websocket transport
// cannot dial, such as https rooms handed out by the daily provider.
type hubRooms struct {
	call.Provisioner
}

func (r hubRooms) RequestCredential(ctx context.Context, req call.CredentialRequest) (call.Credential, error) {
	cred, err := r.Provisioner.RequestCredential(ctx, req)
	if err != nil {
		return cred, err
	}
	u, err := url.Parse(cred.RoomURL)
	if err != nil {
		return call.Credential{}, fmt.Errorf("room url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return call.Credential{}, fmt.Errorf("room %s is not served by the hub; voicectl only joins ws rooms", cred.RoomURL)
	}
	return cred, nil
}

func openPCM(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// feedLevels publishes one level per PCM window, paced at real time.
func feedLevels(ctx context.Context, src io.Reader, t *ws.Transport, logger *log.Logger) {
	tick := time.NewTicker(pcmWindow)
	defer tick.Stop()
	err := audio.Meter{}.Run(ctx, src, func(level float64) {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if err := t.ReportLevel(level); err != nil {
			logger.Debug("Level not sent", log.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Warn("PCM input stopped", log.Error(err))
	}
}

// callControl is what the command loop needs from call.Controller.
type callControl interface {
	ToggleMute(ctx context.Context, muted bool) error
	SetInputDevice(ctx context.Context, deviceID string) error
	SetOutputDevice(ctx context.Context, deviceID string) error
	Leave(ctx context.Context) error
	Snapshot() call.Snapshot
}

// runCommands executes commands read from in until quit, EOF or ctx is
// done. A nil in only waits for ctx.
func runCommands(ctx context.Context, in io.Reader, out io.Writer, ctl callControl) {
	if in == nil {
		<-ctx.Done()
		return
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !execute(ctx, line, out, ctl) {
				return
			}
		}
	}
}

// execute runs one command line and reports whether to keep reading.
func execute(ctx context.Context, line string, out io.Writer, ctl callControl) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	switch cmd, args := fields[0], fields[1:]; cmd {
	case "mute", "unmute":
		err = ctl.ToggleMute(cctx, cmd == "mute")
	case "input", "output":
		if len(args) != 1 {
			fmt.Fprintf(out, "usage: %s <device-id>\n", cmd)
			return true
		}
		if cmd == "input" {
			err = ctl.SetInputDevice(cctx, args[0])
		} else {
			err = ctl.SetOutputDevice(cctx, args[0])
		}
	case "devices":
		s := ctl.Snapshot()
		renderDevices(out, append(s.InputDevices, s.OutputDevices...), s.Input.Confirmed, s.Output.Confirmed)
	case "who":
		renderParticipants(out, ctl.Snapshot())
	case "leave":
		err = ctl.Leave(cctx)
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(out, "unknown command %q\n", cmd)
	}
	if err != nil {
		fmt.Fprintln(out, "error:", err)
	}
	return true
}

func renderParticipants(w io.Writer, s call.Snapshot) {
	ps := make([]call.Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].DisplayName < ps[j].DisplayName })

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Name", "Mic", "Level"})
	for _, p := range ps {
		name := p.DisplayName
		if p.Local {
			name += " (you)"
		}
		mic := "on"
		if !p.AudioEnabled {
			mic = "muted"
		}
		tw.AppendRow(table.Row{name, mic, levelBar(s.Intensity(p.SessionID))})
	}
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%s, %d in call", s.State, len(ps))})
	tw.Render()
}

func levelBar(v float64) string {
	const width = 10
	n := int(v*width + 0.5)
	return strings.Repeat("#", n) + strings.Repeat(".", width-n)
}

type stateReader interface {
	State() call.State
}

func waitState(c stateReader, timeout time.Duration, want ...call.State) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := c.State()
		for _, w := range want {
			if st == w {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Demo shell for the replay library: run one process as the authority and
// any number as predicting clients, all sharing the grid-walker model.
//
//	REPLAY_PEER=1 replay
//	◌ listen tcp://127.0.0.1:7777
//
//	REPLAY_PEER=2 replay
//	◌ connect tcp://127.0.0.1:7777
//	◌ move 1 0
//	◌ state
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/ergochat/readline"

	"github.com/drpcorg/replay"
	"github.com/drpcorg/replay/journal"
	"github.com/drpcorg/replay/protocol"
	"github.com/drpcorg/replay/utils"
)

type Config struct {
	Peer     uint32 `env:"REPLAY_PEER" envDefault:"1"`
	LogLevel string `env:"REPLAY_LOG_LEVEL" envDefault:"info"`
	Journal  string `env:"REPLAY_JOURNAL"`
	Snapshot int64  `env:"REPLAY_SNAPSHOT_EVERY" envDefault:"64"`
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("listen"),
	readline.PcItem("connect"),
	readline.PcItem("move"),
	readline.PcItem("state"),
	readline.PcItem("pending"),
	readline.PcItem("snapshot"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type session struct {
	cfg   Config
	log   utils.Logger
	codec replay.Codec

	net       *protocol.Net
	authority *replay.Authority[replay.GridModel, replay.GridMove, replay.GridMoved]
	predictor *replay.Predictor[replay.GridModel, replay.GridMove, replay.GridMoved]
	store     *replay.Store[replay.GridModel, replay.GridMove, replay.GridMoved]
	journal   *journal.Journal
}

func (s *session) listen(ctx context.Context, addr string) error {
	if s.net != nil {
		return fmt.Errorf("already running")
	}

	s.store = replay.NewGridStore(s.log)
	opts := replay.AuthorityOptions{Granted: true, SnapshotEvery: s.cfg.Snapshot}

	if s.cfg.Journal != "" {
		j, err := journal.Open(s.cfg.Journal, s.log)
		if err != nil {
			return err
		}
		s.journal = j
		opts.Journal = j
	}

	hub := replay.NewAuthorityHub[replay.GridModel, replay.GridMove, replay.GridMoved](s.log)
	s.authority = replay.NewAuthority(s.store, s.codec, hub, s.log, opts)
	hub.Attach(s.authority)

	if s.journal != nil {
		if _, rec, err := s.journal.LoadLatest(); err == nil {
			if err := s.authority.Restore(rec); err != nil {
				s.log.Warn("couldn't restore from journal", "err", err)
			} else {
				s.log.Info("restored from journal", "tick", s.authority.Tick())
			}
		}
	}

	s.net = protocol.NewNet(s.log, nil, hub.Install, hub.Uninstall)
	return s.net.Listen(ctx, addr)
}

func (s *session) connect(ctx context.Context, addr string) error {
	if s.net != nil {
		return fmt.Errorf("already running")
	}

	s.store = replay.NewGridStore(s.log)
	hub := replay.NewClientHub[replay.GridModel, replay.GridMove, replay.GridMoved](s.log)
	s.predictor = replay.NewPredictor(
		replay.PeerID(s.cfg.Peer), s.store, replay.GridApply,
		s.codec, hub, s.log, replay.PredictorOptions{},
	)
	hub.SetPredictor(s.predictor)

	s.net = protocol.NewNet(s.log, nil, hub.Install, hub.Uninstall)
	return s.net.Connect(ctx, addr)
}

func (s *session) move(dx, dy int64) error {
	if s.predictor != nil {
		return s.predictor.CommitOne(replay.GridMove{
			Peer: replay.PeerID(s.cfg.Peer), DX: dx, DY: dy,
		})
	}
	if s.authority != nil {
		s.authority.Commit(replay.GridMove{
			Peer: replay.PeerID(s.cfg.Peer), DX: dx, DY: dy,
		})
		return nil
	}
	return fmt.Errorf("not connected; use listen or connect first")
}

func (s *session) state(w io.Writer) {
	if s.store == nil {
		fmt.Fprintln(w, "not connected")
		return
	}
	s.store.View(func(m *replay.GridModel) {
		for peer, pt := range m.Walkers {
			fmt.Fprintf(w, "peer %d: (%d, %d)\n", peer, pt.X, pt.Y)
		}
	})
}

func (s *session) close() {
	if s.net != nil {
		_ = s.net.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-2)
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/replay.history",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	ctx := context.Background()
	s := &session{
		cfg:   cfg,
		log:   utils.NewDefaultLogger(logLevel(cfg.LogLevel)),
		codec: replay.NewCBORCodec(),
	}
	defer s.close()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}
		cmd, args := args[0], args[1:]
		err = nil

		switch cmd {
		case "listen":
			if len(args) != 1 {
				err = fmt.Errorf("usage: listen tcp://host:port")
				break
			}
			err = s.listen(ctx, args[0])

		case "connect":
			if len(args) != 1 {
				err = fmt.Errorf("usage: connect tcp://host:port")
				break
			}
			err = s.connect(ctx, args[0])

		case "move":
			if len(args) != 2 {
				err = fmt.Errorf("usage: move <dx> <dy>")
				break
			}
			var dx, dy int64
			if dx, err = strconv.ParseInt(args[0], 10, 64); err != nil {
				break
			}
			if dy, err = strconv.ParseInt(args[1], 10, 64); err != nil {
				break
			}
			err = s.move(dx, dy)

		case "state":
			s.state(os.Stdout)

		case "pending":
			if s.predictor == nil {
				err = fmt.Errorf("pending is a client command")
				break
			}
			fmt.Printf("%d unacknowledged (next seq %d)\n",
				s.predictor.Pending(), s.predictor.NextSeq())

		case "snapshot":
			if s.authority == nil {
				err = fmt.Errorf("snapshot is an authority command")
				break
			}
			err = s.authority.SendSnapshot()

		case "help":
			fmt.Println("listen | connect | move | state | pending | snapshot | exit")

		case "exit", "quit":
			s.close()
			os.Exit(0)

		default:
			err = fmt.Errorf("unknown command %q, try help", cmd)
		}

		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
		}
	}
}

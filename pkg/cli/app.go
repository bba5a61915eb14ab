package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wurt83ow/checkin-client/pkg/bdkeeper"
	"github.com/wurt83ow/checkin-client/pkg/config"
	"github.com/wurt83ow/checkin-client/pkg/connectivity"
	"github.com/wurt83ow/checkin-client/pkg/encription"
	"github.com/wurt83ow/checkin-client/pkg/gate"
	"github.com/wurt83ow/checkin-client/pkg/gqlclient"
	"github.com/wurt83ow/checkin-client/pkg/logger"
	"github.com/wurt83ow/checkin-client/pkg/queue"
	"github.com/wurt83ow/checkin-client/pkg/reconcile"
	"github.com/wurt83ow/checkin-client/pkg/services"
	"github.com/wurt83ow/checkin-client/pkg/session"
	"github.com/wurt83ow/checkin-client/pkg/syncinfo"
)

// sessionTTL is how long a login stays usable.
const sessionTTL = 24 * time.Hour

// app is the composition root shared by the commands.
type app struct {
	opts    *config.Options
	log     *logrus.Logger
	db      *sql.DB
	logFile io.Closer
	queue   *queue.Manager
	engine  *reconcile.Engine
	monitor *connectivity.Monitor
	svc     *services.Service
}

// openApp builds every component from the resolved options. userOut
// receives the failure events staff must see.
func openApp(ctx context.Context, root *RootOptions, userOut io.Writer) (*app, error) {
	opts, err := root.Flags.Resolve()
	if err != nil {
		return nil, err
	}
	if err := opts.EnsureDataDir(); err != nil {
		return nil, err
	}

	log, logFile, err := logger.NewLogger(logger.Config{Level: opts.LogLevel, File: opts.LogFile, Verbose: opts.Verbose})
	if err != nil {
		return nil, err
	}

	db, err := bdkeeper.Open(opts.DBPath)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a := &app{opts: opts, log: log, db: db, logFile: logFile}

	var enc *encription.Enc
	if opts.Secret != "" {
		if enc, err = encription.NewEnc(opts.Secret); err != nil {
			a.Close()
			return nil, err
		}
	}

	storeOpts := []bdkeeper.StoreOption{bdkeeper.WithLogger(log)}
	if opts.EncryptQueue {
		storeOpts = append(storeOpts, bdkeeper.WithSealer(enc))
	}
	store := bdkeeper.NewOperationStore(bdkeeper.NewKeeper(db), opts.SlotName, storeOpts...)

	var sealer session.Sealer
	if enc != nil {
		sealer = enc
	}
	sess := session.NewStore(opts.SessionPath, sealer, sessionTTL)

	info := syncinfo.NewSyncManager(opts.SysInfoPath)
	if _, err := info.LoadSyncInfoFromFile(); err != nil {
		log.WithError(err).Warn("Ignoring unreadable sync info")
	}

	reporter := reconcile.Multi{reconcile.LogReporter{Log: log}, userReporter(userOut)}

	a.queue = queue.New(ctx, store,
		queue.WithMaxRetry(opts.MaxRetry),
		queue.WithMaxSize(opts.MaxQueueSize),
		queue.WithLogger(log),
		queue.WithEvictionHandler(services.EvictionReporter(reporter)),
	)

	remote, err := gqlclient.NewClient(opts.ServerURL,
		gqlclient.WithHTTPClient(&http.Client{Timeout: opts.CallTimeout}),
		gqlclient.WithTokenSource(sess),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine = reconcile.New(remote, a.queue,
		reconcile.WithReporter(reporter),
		reconcile.WithPassRecorder(info),
		reconcile.WithCallTimeout(opts.CallTimeout),
		reconcile.WithLogger(log),
	)
	a.monitor = connectivity.New(remote, a.queue, a.engine,
		connectivity.WithInterval(opts.ProbeInterval),
		connectivity.WithLogger(log),
	)
	a.svc = services.NewServices(services.Components{
		Gate:        gate.New(gate.WithWindow(opts.DebounceWindow)),
		Queue:       a.queue,
		Engine:      a.engine,
		Monitor:     a.monitor,
		Remote:      remote,
		Session:     sess,
		SyncInfo:    info,
		CallTimeout: opts.CallTimeout,
		Log:         log,
	})
	return a, nil
}

// probe records the current reachability once.
func (a *app) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	return a.monitor.Check(ctx)
}

// Close releases the database and the log file.
func (a *app) Close() error {
	return errors.Join(a.db.Close(), a.logFile.Close())
}

func userReporter(w io.Writer) reconcile.Reporter {
	if w == nil {
		return nil
	}
	return reconcile.ReporterFunc(func(ev reconcile.Event) {
		fmt.Fprintf(w, "%s: %s (%s %s)\n", ev.Type, ev.Message(), ev.Operation.Kind, logger.MaskCode(ev.Operation.QRCode))
	})
}

// banking-scheduler runs a standalone, in-memory demonstration of the
// scheduler core: a synthetic packet generator feeding ingress, a toy
// worker pool draining egress and reporting completions, wired
// together by the urfave/cli App in the shape of the teacher's
// cmd/evm-node/main.go.
package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luxfi/banking-scheduler/internal/config"
	"github.com/luxfi/banking-scheduler/internal/log"
	"github.com/luxfi/banking-scheduler/scheduler"
	"github.com/luxfi/banking-scheduler/scheduler/forward"
	"github.com/luxfi/banking-scheduler/scheduler/types"
	"github.com/luxfi/banking-scheduler/schedmetrics"
)

const clientIdentifier = "banking-scheduler"

var version = "dev"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "standalone demonstration of the transaction-scheduling core",
	Version: version,
}

func init() {
	app.Commands = []*cli.Command{
		runCommand,
		versionCommand,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "print the version and exit",
	Action: func(*cli.Context) error {
		fmt.Println(version)
		return nil
	},
}

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run the scheduler against a synthetic ingress generator and a toy worker pool",
	Flags:  flagsFromPflag(),
	Action: runAction,
}

// flagsFromPflag declares cli.Flag entries under the same names as the
// tunables in internal/config's pflag.FlagSet, plus the demo-only
// workload flags; runAction forwards the tunables that were set on the
// command line to that FlagSet.
func flagsFromPflag() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: config.NumThreadsKey, Value: 4, Usage: "number of worker threads"},
		&cli.UintFlag{Name: config.SequentialQueueLimitKey, Value: 0, Usage: "per-account per-thread in-flight limit (0 = unbounded)"},
		&cli.IntFlag{Name: config.ContainerCapacityKey, Value: 4096, Usage: "pending-transaction container capacity"},
		&cli.IntFlag{Name: config.MaxBatchSizeKey, Value: 128, Usage: "maximum packets per dispatched batch"},
		&cli.DurationFlag{Name: config.RecvTimeoutKey, Value: 10 * time.Millisecond, Usage: "ingress/completion receive timeout"},
		&cli.StringFlag{Name: config.LogLevelKey, Value: "info", Usage: "log level"},
		&cli.IntFlag{Name: "num-accounts", Value: 64, Usage: "distinct accounts in the synthetic workload"},
		&cli.Float64Flag{Name: "packets-per-second", Value: 200, Usage: "synthetic ingress rate"},
		&cli.DurationFlag{Name: "duration", Value: 5 * time.Second, Usage: "how long to run before exiting"},
	}
}

func runAction(cctx *cli.Context) error {
	fs := config.BuildFlagSet()
	var args []string
	for _, name := range []string{
		config.NumThreadsKey, config.SequentialQueueLimitKey, config.ContainerCapacityKey,
		config.MaxBatchSizeKey, config.RecvTimeoutKey, config.LogLevelKey,
	} {
		if cctx.IsSet(name) {
			args = append(args, fmt.Sprintf("--%s=%v", name, cctx.Value(name)))
		}
	}
	v, err := config.BuildViper(fs, args)
	if err != nil {
		return err
	}
	cfg, err := config.BuildConfig(v)
	if err != nil {
		return err
	}

	log.Root().Info("starting banking-scheduler", "num_threads", cfg.NumThreads, "max_batch_size", cfg.MaxBatchSize)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, cctx.Duration("duration"))
	defer cancel()

	ingress := make(chan types.DeserializedPacket, 1024)
	completion := make(chan types.ProcessedPacketBatch, 1024)
	egress := make(chan types.ScheduledPacketBatch, 1024)

	metrics := schedmetrics.New()
	forwarder, err := forward.NewFilter("")
	if err != nil {
		return err
	}

	numAccounts := cctx.Int("num-accounts")
	sanitizer := &passthroughSanitizer{}
	bank := &staticBank{}
	decisionMaker := &alwaysConsume{}

	sched := scheduler.New(cfg, sanitizer, bank, decisionMaker, forwarder, ingress, completion, egress, nil, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ingress)
		return generateIngress(gctx, ingress, numAccounts, cctx.Float64("packets-per-second"))
	})
	g.Go(func() error {
		return runWorkers(gctx, egress, completion)
	})

	stop := make(chan struct{})
	g.Go(func() error {
		<-gctx.Done()
		close(stop)
		return nil
	})
	g.Go(func() error {
		err := sched.Run(stop)
		log.Root().Info("scheduler stopped", "err", err)
		return nil
	})

	_ = g.Wait()
	log.Root().Info("shutdown complete", "recent_drop_reasons", metrics.RecentDropReasons())
	return nil
}

// generateIngress produces synthetic packets touching a bounded pool
// of accounts at the given rate, standing in for the real deserializer
// stage excluded from the core by spec.md §1 — this is the
// SPEC_FULL.md "SUPPLEMENTED FEATURES" synthetic ingress generator.
func generateIngress(ctx context.Context, out chan<- types.DeserializedPacket, numAccounts int, rps float64) error {
	limiter := rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	accounts := make([]types.AccountKey, numAccounts)
	for i := range accounts {
		accounts[i] = sha256.Sum256([]byte(fmt.Sprintf("account-%d", i)))
	}

	var seq uint64
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		seq++
		body := []byte(fmt.Sprintf("tx-%d", seq))
		pkt := types.DeserializedPacket{
			MessageHash: sha256.Sum256(body),
			Priority:    uint64(rand.Intn(1000)),
			Bytes:       body,
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
}

// runWorkers drains egress and reports every packet as finally
// completed (no retries), the simplest toy worker pool satisfying the
// completion contract of spec.md §6.
func runWorkers(ctx context.Context, egress <-chan types.ScheduledPacketBatch, completion chan<- types.ProcessedPacketBatch) error {
	for {
		select {
		case batch, ok := <-egress:
			if !ok {
				return nil
			}
			report := types.ProcessedPacketBatch{
				ID:               batch.ID,
				RetryablePackets: make([]bool, len(batch.Packets)),
			}
			select {
			case completion <- report:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// passthroughSanitizer treats every synthetic packet as already
// sanitized, assigning it a single-write-account transaction so the
// demo exercises real lock contention.
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(bank any, pkt types.DeserializedPacket) (types.SanitizedTransactionTTL, bool) {
	var account types.AccountKey
	account[0] = byte(pkt.Priority % 32)
	return types.SanitizedTransactionTTL{
		MessageHash: pkt.MessageHash,
		Priority:    pkt.Priority,
		Writes:      []types.AccountKey{account},
	}, true
}

type staticBank struct{}

func (*staticBank) CurrentBank() any { return nil }

type alwaysConsume struct{}

func (*alwaysConsume) MakeDecision() types.Decision {
	return types.Decision{Kind: types.DecisionConsume}
}

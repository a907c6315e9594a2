package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-attach/internal/logger"
	"event-attach/internal/metrics"
	"event-attach/internal/model"
	"event-attach/internal/session"
	"event-attach/internal/store"
	"event-attach/internal/stream"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	target stream.Filter
	lines  int
	settle time.Duration
	submit bool
	output string
}

func newWatchCmd(c *cli) *cobra.Command {
	o := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Collect recent events for one resource",
		Example: `  attachctl watch --kind Pod --name web-0 --namespace shop
  attachctl watch --kind Deployment --name api --namespace shop --lines 25 --settle 5s --submit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.output != "yaml" && o.output != "json" {
				return fmt.Errorf("unknown --output %q (yaml or json)", o.output)
			}
			if cmd.Flags().Changed("lines") && o.lines < 1 {
				return session.ErrInvalidWindow
			}
			return runWatch(cmd.Context(), c, o, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.target.Kind, "kind", "", "resource kind, e.g. Pod")
	f.StringVar(&o.target.Name, "name", "", "resource name")
	f.StringVar(&o.target.Namespace, "namespace", "", "resource namespace")
	f.StringVar(&o.target.UID, "uid", "", "resource UID (optional)")
	f.IntVar(&o.lines, "lines", 0, "window size (default: last 10 events)")
	f.DurationVar(&o.settle, "settle", 2*time.Second, "keep collecting this long after the first frame")
	f.BoolVar(&o.submit, "submit", false, "submit the attachment to the configured store instead of printing it")
	f.StringVarP(&o.output, "output", "o", "yaml", "print format: yaml (content only) or json (whole payload)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("namespace")

	return cmd
}

// runWatch 는 세션 하나를 열고 settle 될 때까지 기다렸다가 결과를 낸다.
//
//	open → (첫 프레임 | timeout | 에러) → settle 대기 → preview/submit → close
func runWatch(ctx context.Context, c *cli, o *watchOptions, out, errOut io.Writer) error {
	cfg := c.cfg
	// 결과는 stdout 으로 나가므로 이 명령의 로그는 errOut 으로 보낸다.
	// 전역 logger 는 건드리지 않는다 (기본값이 stderr 이고, 세션 goroutine 이 동시에 읽는다).
	log := logger.New(cfg, errOut)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	opts := session.Options{Stream: session.StreamOptions(cfg), Metrics: m}

	var dispatcher *store.Dispatcher
	if o.submit {
		d, err := store.Open(ctx, cfg, m)
		if err != nil {
			return err
		}
		d.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout*time.Duration(cfg.StoreRetries+1))
			defer cancel()
			if err := d.Shutdown(sctx); err != nil {
				log.Error().Err(err).Msg("store shutdown")
			}
		}()
		dispatcher = d
		opts.Sink = d
	}

	// CLI 세션은 하나뿐이고 명령이 끝나면 닫히므로 reaper 는 쓰지 않는다.
	cfg.SessionIdleTTL = 0
	mgr := session.NewManager(cfg, opts)
	defer mgr.Shutdown()

	s, err := mgr.Open(o.target)
	if err != nil {
		return err
	}
	if o.lines > 0 {
		if err := s.SetWindow(&o.lines); err != nil {
			return err
		}
	}

	select {
	case <-s.Settled():
	case <-ctx.Done():
		return ctx.Err()
	}

	if st := s.Status(); st.State == stream.Streaming {
		select {
		case <-time.After(o.settle):
		case <-ctx.Done():
		}
	}

	st := s.Status()
	log.Info().
		Str("state", st.State.String()).
		Int("buffered", st.Buffered).
		Int("effective", st.Effective).
		Int("parse_errors", st.ParseErrors).
		Str("error", st.Error).
		Msg("watch settled")

	if st.Error != "" && st.Buffered == 0 {
		return errors.New(st.Error)
	}

	var p *model.AttachmentPayload
	if dispatcher != nil {
		p, err = mgr.Submit(s.ID())
	} else {
		p, err = s.Preview()
	}
	if errors.Is(err, session.ErrNothingToExport) {
		fmt.Fprintln(errOut, "no events")
		return nil
	}
	if err != nil {
		return err
	}

	if dispatcher != nil {
		fmt.Fprintf(errOut, "submitted %d events for %s/%s to %s\n", p.Metadata.Lines, p.Namespace, p.Name, cfg.StoreBackend)
		return nil
	}
	return printPayload(out, p, o.output)
}

func printPayload(w io.Writer, p *model.AttachmentPayload, format string) error {
	if format == "json" {
		raw, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	_, err := fmt.Fprintln(w, p.Content)
	return err
}

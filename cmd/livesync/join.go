package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"livesync/internal/app"
	"livesync/internal/state"
	"livesync/pkg/types"
)

type joinOptions struct {
	name   string
	role   string
	resume bool
}

func newJoinCmd(opts *rootOptions) *cobra.Command {
	jo := &joinOptions{}
	cmd := &cobra.Command{
		Use:   "join [session-id]",
		Short: "Join a session and edit code from standard input",
		Long: `join connects to a session's channel. Each input line is appended to the
code and sent to the other participant. Lines starting with ':' are
commands: :next, :run, :clear, :end (interviewer) and :quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := app.NewParticipant(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			out := cmd.OutOrStdout()
			p.Coordinator.OnNotice(func(env types.Envelope) { printNotice(out, env) })
			cancel := p.Store.OnChange(func(st state.State) {
				if text := st.ProgressText(); text != "" {
					fmt.Fprintf(out, "[%s] %d bytes of code\n", text, len(st.CandidateCode))
				}
			})
			defer cancel()

			if err := jo.open(ctx, p, args, logger); err != nil {
				return err
			}
			return editLoop(ctx, p, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVar(&jo.name, "name", "", "display name")
	cmd.Flags().StringVar(&jo.role, "role", string(types.RoleCandidate), "interviewer or candidate")
	cmd.Flags().BoolVar(&jo.resume, "resume", false, "rejoin the session held in local storage")
	return cmd
}

func (jo *joinOptions) open(ctx context.Context, p *app.Participant, args []string, logger zerolog.Logger) error {
	if jo.resume {
		ok, err := p.Coordinator.Resume()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no active session in local storage")
		}
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("a session id is required unless --resume is set")
	}

	user := types.UserIdentity{Name: jo.name, Role: types.Role(jo.role)}
	if err := user.Validate(); err != nil {
		return err
	}

	sessionID := args[0]
	var session *types.Session
	var err error
	if user.Role == types.RoleCandidate {
		session, err = p.API.JoinSession(ctx, sessionID, user.Name)
	} else {
		session, err = p.API.GetSession(ctx, sessionID)
	}
	if err != nil {
		logger.Warn().Err(err).Str("session_id", sessionID).Msg("session details unavailable, joining without problems")
		session = &types.Session{ID: sessionID, Status: types.StatusActive}
	}
	return p.Coordinator.Open(ctx, session, user)
}

func editLoop(ctx context.Context, p *app.Participant, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	code := p.Store.State().CandidateCode
	for {
		select {
		case <-ctx.Done():
			p.Coordinator.Leave()
			return nil
		case line, ok := <-lines:
			if !ok {
				p.Coordinator.Leave()
				return nil
			}
			switch strings.TrimSpace(line) {
			case ":quit":
				p.Coordinator.Leave()
				return nil
			case ":next":
				if !p.Coordinator.NextProblem(ctx) {
					fmt.Fprintln(out, "already at the last problem")
				}
				code = p.Store.State().CandidateCode
			case ":run":
				if err := p.Coordinator.RunCode(ctx); err != nil {
					fmt.Fprintln(out, err)
				}
			case ":clear":
				code = ""
				if err := p.Coordinator.EditCode(ctx, code); err != nil {
					fmt.Fprintln(out, err)
				}
			case ":end":
				if !p.Store.State().IsInterviewer() {
					fmt.Fprintln(out, "only the interviewer can end the session")
					continue
				}
				if sess := p.Store.State().CurrentSession; sess != nil {
					if err := p.API.EndSession(ctx, sess.ID); err != nil {
						fmt.Fprintln(out, err)
					}
				}
				p.Coordinator.End(ctx)
				return nil
			default:
				if code != "" {
					code += "\n"
				}
				code += line
				if err := p.Coordinator.EditCode(ctx, code); err != nil {
					fmt.Fprintln(out, err)
				}
			}
		}
	}
}

func printNotice(out io.Writer, env types.Envelope) {
	switch env.Type {
	case types.TypeUserJoined, types.TypeUserLeft:
		var presence types.Presence
		if env.Decode(&presence) == nil {
			verb := "joined"
			if env.Type == types.TypeUserLeft {
				verb = "left"
			}
			fmt.Fprintf(out, "%s (%s) %s\n", presence.UserName, presence.Role, verb)
		}
	case types.TypeConnectionStatus:
		var status types.ConnectionStatus
		if env.Decode(&status) == nil {
			fmt.Fprintf(out, "%s to %s, %d active\n", status.Status, status.SessionID, status.ActiveUsers)
		}
	case types.TypeSessionEnded:
		fmt.Fprintln(out, "the session has ended")
	case types.TypeError:
		var msg types.ErrorMessage
		if env.Decode(&msg) == nil {
			fmt.Fprintf(out, "relay error %s: %s\n", msg.Code, msg.Message)
		}
	}
}

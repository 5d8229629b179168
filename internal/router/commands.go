package router

import (
	"context"
	"strconv"
	"strings"

	"js8bridge/internal/registry"
	"js8bridge/internal/stats"
)

// RegisterBridgeCommands installs the fixed command surface. The registry
// operations send their own acknowledgements; the router only answers usage
// errors and pure queries.
func (r *Router) RegisterBridgeCommands(reg *registry.Registry, st *stats.Service) {
	r.Register(
		Command{
			Name:        "add",
			Description: "Add yourself to the JS8Call message group",
			Handle: func(ctx context.Context, req *Request) error {
				reg.Join(ctx, req.From)
				return nil
			},
		},
		Command{
			Name:        "remove",
			Description: "Remove yourself from the JS8Call message group",
			Handle: func(ctx context.Context, req *Request) error {
				reg.Leave(ctx, req.From)
				return nil
			},
		},
		Command{
			Name:        "groups",
			Description: "Show available groups and your subscriptions",
			Handle: func(ctx context.Context, req *Request) error {
				r.reply(ctx, req.From, renderGroups(reg.GroupStatuses(req.From)))
				return nil
			},
		},
		Command{
			Name:        "join",
			Description: "Join one or more groups",
			Usage:       "Usage: /join <group1> <group2> ...",
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					r.reply(ctx, req.From, "Usage: /join <group1> <group2> ...")
					return nil
				}
				reg.JoinGroups(ctx, req.From, req.Args)
				return nil
			},
		},
		Command{
			Name:        "leave",
			Description: "Leave a specific group",
			Usage:       "Usage: /leave <group>",
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					r.reply(ctx, req.From, "Usage: /leave <group>")
					return nil
				}
				reg.LeaveGroup(ctx, req.From, req.Args[0])
				return nil
			},
		},
		Command{
			Name:        "mute",
			Description: "Mute one or more groups or all groups",
			Usage:       "Usage: /mute <group1> <group2> ... or ALL",
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					r.reply(ctx, req.From, "Usage: /mute <group1> <group2> ... or ALL")
					return nil
				}
				reg.Mute(ctx, req.From, req.Args)
				return nil
			},
		},
		Command{
			Name:        "unmute",
			Description: "Unmute one or more groups or all groups",
			Usage:       "Usage: /unmute <group1> <group2> ... or ALL",
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					r.reply(ctx, req.From, "Usage: /unmute <group1> <group2> ... or ALL")
					return nil
				}
				reg.Unmute(ctx, req.From, req.Args)
				return nil
			},
		},
		Command{
			Name:        "help",
			Description: "Show this help message",
			Handle: func(ctx context.Context, req *Request) error {
				r.reply(ctx, req.From, helpText)
				return nil
			},
		},
		Command{
			Name:        "showlog",
			Description: "Show the last <number> messages (max 50)",
			Usage:       "Usage: /showlog <number>",
			Handle: func(ctx context.Context, req *Request) error {
				n := 10
				if len(req.Args) > 0 {
					v, err := strconv.Atoi(req.Args[0])
					if err != nil || v <= 0 {
						r.reply(ctx, req.From, "Usage: /showlog <number>")
						return nil
					}
					n = v
				}
				out, err := st.RenderLog(ctx, n)
				if err != nil {
					return err
				}
				r.reply(ctx, req.From, out)
				return nil
			},
		},
		Command{
			Name:        "stats",
			Description: "Show current stats, or stats for a period",
			Usage:       "Usage: /stats [day|month]",
			Handle: func(ctx context.Context, req *Request) error {
				period := ""
				if len(req.Args) > 0 && (req.Args[0] == "day" || req.Args[0] == "month") {
					period = req.Args[0]
				}
				out, err := st.RenderStats(ctx, period)
				if err != nil {
					return err
				}
				r.reply(ctx, req.From, out)
				return nil
			},
		},
		Command{
			Name:        "info",
			Description: "Show bot information",
			Handle: func(ctx context.Context, req *Request) error {
				r.reply(ctx, req.From, st.RenderInfo())
				return nil
			},
		},
	)
}

const helpText = "Available commands:\n" +
	"/add - Add yourself to the JS8Call message group\n" +
	"/remove - Remove yourself from the JS8Call message group\n" +
	"/groups - Show available groups and your subscriptions\n" +
	"/join <group1> <group2> ... - Join one or more groups\n" +
	"/leave <group> - Leave a specific group\n" +
	"/mute <group1> <group2> ... or ALL - Mute one or more groups or all groups\n" +
	"/unmute <group1> <group2> ... or ALL - Unmute one or more groups or all groups\n" +
	"/help - Show this help message\n" +
	"/showlog <number> - Show the last <number> messages (max 50)\n" +
	"/stats - Show current stats\n" +
	"/stats <day|month> - Show stats for the specified period\n" +
	"/info - Show bot information"

func renderGroups(statuses []registry.GroupStatus) string {
	var b strings.Builder
	b.WriteString("Available groups:\n")
	for _, gs := range statuses {
		status := "[Not subscribed]"
		if gs.Subscribed {
			status = "[Subscribed]"
		}
		if gs.Muted {
			status += " [Muted]"
		}
		b.WriteString(gs.Name + " " + status + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

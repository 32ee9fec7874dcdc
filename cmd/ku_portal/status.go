package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/overflow0verture/ku_portal/internal/status"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "拉取一次门户状态并输出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, scheduler.Options{SkipInitial: true})
			if err != nil {
				return err
			}

			st := a.svc.Refresh(cmd.Context())
			if !st.Available {
				return fmt.Errorf("状态拉取失败: %s", st.Err)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printSnapshot(os.Stdout, st.Snapshot)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以JSON格式输出")
	return cmd
}

func printSnapshot(w io.Writer, s status.Snapshot) {
	authState := "未登录"
	if s.Authenticated() {
		authState = "已登录"
	}
	fmt.Fprintf(w, "用户:     %s\n", s.User)
	fmt.Fprintf(w, "状态:     %s (%s)\n", s.Status, authState)
	fmt.Fprintf(w, "IPv4:     %s\n", s.IPv4)
	fmt.Fprintf(w, "IPv6:     %s\n", s.IPv6)
	fmt.Fprintf(w, "流量总额: %s GB\n", humanize.FtoaWithDigits(s.MaxQuotaGB, 2))
	fmt.Fprintf(w, "剩余流量: %s GB\n", humanize.FtoaWithDigits(s.RemainingGB, 2))
	fmt.Fprintf(w, "已用:     %s GB (%s%%)\n",
		humanize.FtoaWithDigits(s.UsedGB(), 2),
		humanize.FtoaWithDigits(s.UsedRatio()*100, 1))
}

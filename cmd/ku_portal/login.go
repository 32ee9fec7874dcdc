package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/overflow0verture/ku_portal/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "登录校园网，密码从终端读取",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			password, err := readPassword(os.Stdin, os.Stderr)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, scheduler.Options{SkipInitial: true})
			if err != nil {
				return err
			}

			outcome := a.svc.Login(cmd.Context(), username, password)
			if !outcome.Success {
				return errors.New(outcome.Reason)
			}
			fmt.Fprintln(os.Stdout, "登录成功")
			if st := a.svc.State(); st.Available {
				printSnapshot(os.Stdout, st.Snapshot)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "账号")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// readPassword 终端下关闭回显读取；非终端时读取第一行，便于管道输入
func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "密码: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("读取密码失败: %w", err)
		}
		if len(b) == 0 {
			return "", errors.New("密码不能为空")
		}
		return string(b), nil
	}
	return readPasswordLine(in)
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("密码不能为空")
	}
	return line, nil
}

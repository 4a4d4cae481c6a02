package commands

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Jun20220703/bit216as/internal/config"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const masked = "********"

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration after file, .env and environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			redacted := redact(cfg)

			var out []byte
			switch format {
			case "yaml", "yml":
				out, err = yaml.Marshal(redacted)
			case "json":
				out, err = json.MarshalIndent(redacted, "", "  ")
				out = append(out, '\n')
			default:
				return a.out.Error(fmt.Sprintf("Unknown format %q", format), "", []string{"Use --format yaml or --format json"})
			}
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			a.out.Info("%s", out)

			if err := cfg.Validate(); err != nil {
				a.out.Warning("configuration is not valid for startup: %v\n", err)
			}
			return nil
		},
	}
	show.Flags().StringVar(&format, "format", "yaml", "Output format (yaml|json)")

	cmd.AddCommand(show)
	return cmd
}

// redact 返回隐藏密钥与密码后的副本。
func redact(cfg *config.Config) *config.Config {
	c := *cfg
	c.Security.CORSOrigins = append([]string(nil), cfg.Security.CORSOrigins...)
	if c.Security.JWTSecret != "" {
		c.Security.JWTSecret = masked
	}
	if c.Email.SMTPPass != "" {
		c.Email.SMTPPass = masked
	}
	if c.Redis.Password != "" {
		c.Redis.Password = masked
	}
	c.Mongo.URI = redactURI(c.Mongo.URI)
	c.MySQL.DSN = redactDSN(c.MySQL.DSN)
	return &c
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), masked)
	}
	return u.String()
}

func redactDSN(dsn string) string {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil || parsed.Passwd == "" {
		return dsn
	}
	parsed.Passwd = masked
	return parsed.FormatDSN()
}

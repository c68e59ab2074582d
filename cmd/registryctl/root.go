package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/redisutil"
)

const (
	envPrefix      = "REGISTRYCTL"
	configFileName = ".registryctl"
)

// cli carries the settings shared by every subcommand.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "registryctl",
		Short:         "Operate the extension registry",
		Long:          "registryctl manages signing keys, accounts and tokens, seeds administrators and inspects submissions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().String("redis-url", redisutil.DefaultURL, "Redis URL of the registry store")
	root.PersistentFlags().String("private-key", "", "ed25519 private key (base64 or file path) used to sign tokens")
	root.PersistentFlags().String("config", "", "config file (default ~/.registryctl.yaml)")

	root.AddCommand(
		c.keygenCmd(),
		c.usersCmd(),
		c.tokenCmd(),
		c.grantAdminCmd(),
		c.submissionsCmd(),
	)
	return root
}

// load binds flags, REGISTRYCTL_* env and the optional config file.
func (c *cli) load(cmd *cobra.Command) error {
	v := c.v
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, configFileName+".yaml"))
		v.SetConfigType("yaml")
		// a missing default file is fine
		_ = v.ReadInConfig()
	}
	return nil
}

func (c *cli) redis() (redis.UniversalClient, error) {
	return redisutil.Connect(c.v.GetString("redis-url"))
}

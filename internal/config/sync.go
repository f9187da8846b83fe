package config

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/replication"
)

// LoadSync loads the replication environment and tuning from Viper.
// It follows this precedence:
// 1. Viper configuration (from config file or HEARTH_ env vars)
// 2. Direct environment variables (COUCHDB_URL, SYNC_DISABLED)
// 3. Default values
func LoadSync() (replication.Env, replication.Options) {
	env := replication.Env{
		DefaultURL: viper.GetString("sync.default_url"),
		Disabled:   viper.GetBool("sync.disabled"),
	}
	if env.DefaultURL == "" {
		env.DefaultURL = os.Getenv("COUCHDB_URL")
	}
	if !viper.IsSet("sync.disabled") {
		if v, err := strconv.ParseBool(os.Getenv("SYNC_DISABLED")); err == nil {
			env.Disabled = v
		}
	}

	opts := replication.DefaultOptions()
	setDuration(&opts.ProbeTimeout, "sync.probe_timeout")
	setDuration(&opts.RequestTimeout, "sync.request_timeout")
	setDuration(&opts.OneShotTimeout, "sync.oneshot_timeout")
	setDuration(&opts.PollInterval, "sync.poll_interval")
	if v := viper.GetInt("sync.batch_size"); v > 0 {
		opts.BatchSize = v
	}
	if v := viper.GetInt("sync.parallelism"); v > 0 {
		opts.Parallelism = v
	}
	setDuration(&opts.Retry.InitialDelay, "sync.retry.initial_delay")
	setDuration(&opts.Retry.MaxDelay, "sync.retry.max_delay")

	return env, opts
}

func setDuration(dst *time.Duration, key string) {
	if !viper.IsSet(key) {
		return
	}
	if d := viper.GetDuration(key); d > 0 {
		*dst = d
		return
	}
	common.LogError(common.ErrInvalidConfig, "Ignoring non-positive duration", common.Fields{"key": key})
}

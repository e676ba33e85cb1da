package priority

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/ocpilink/internal/config"
	"github.com/smallbiznis/ocpilink/internal/ocpi"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const priorityKey = "negotiation.versions"

// Default prefers 2.3.0 and falls back to 2.2.1.
func Default() []ocpi.Version {
	return slices.Clone(ocpi.KnownVersions)
}

// Holder serves the version priority table and reloads it when the
// backing negotiation.yml changes.
type Holder struct {
	current atomic.Value // holds []ocpi.Version
}

func NewHolder(cfg config.Config, log *zap.Logger) (*Holder, error) {
	log = log.Named("versions.config")
	v := viper.New()

	if path := strings.TrimSpace(cfg.NegotiationFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("negotiation")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/ocpilink")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OCPILINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		v.SetDefault(priorityKey, versionStrings(Default()))
	}

	priority, err := parsePriority(readPriority(v))
	if err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(priority)
	log.Info("version priority loaded", zap.Strings("versions", versionStrings(priority)))

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := parsePriority(readPriority(v))
			if err != nil {
				log.Warn("invalid version priority ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("version priority reloaded", zap.String("file", e.Name), zap.Strings("versions", versionStrings(updated)))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStatic builds a holder that never reloads.
func NewStatic(versions ...ocpi.Version) (*Holder, error) {
	priority, err := parsePriority(versionStrings(versions))
	if err != nil {
		return nil, err
	}
	holder := &Holder{}
	holder.current.Store(priority)
	return holder, nil
}

func (h *Holder) Priority() []ocpi.Version {
	return slices.Clone(h.current.Load().([]ocpi.Version))
}

// readPriority accepts the env override as a comma or space separated list.
func readPriority(v *viper.Viper) []string {
	if raw, ok := v.Get(priorityKey).(string); ok {
		return strings.FieldsFunc(raw, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})
	}
	return v.GetStringSlice(priorityKey)
}

func parsePriority(raw []string) ([]ocpi.Version, error) {
	if len(raw) == 0 {
		return nil, errors.New("negotiation.versions cannot be empty")
	}
	out := make([]ocpi.Version, 0, len(raw))
	for _, item := range raw {
		version := ocpi.Version(strings.TrimSpace(item))
		if !version.Valid() {
			return nil, fmt.Errorf("negotiation.versions: unsupported version %q", item)
		}
		if slices.Contains(out, version) {
			return nil, fmt.Errorf("negotiation.versions: duplicate version %q", item)
		}
		out = append(out, version)
	}
	return out, nil
}

func versionStrings(versions []ocpi.Version) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, string(v))
	}
	return out
}

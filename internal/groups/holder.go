package groups

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/groups/domain"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Holder exposes the current classifier. The classifier is rebuilt on config
// reload and swapped atomically, so a poll cycle always sees one consistent
// rule set.
type Holder struct {
	current atomic.Value // holds *Classifier
	log     *zap.Logger
}

// Module provides the feature-group holder.
var Module = fx.Provide(NewHolder)

// NewHolder loads feature-group rules and watches the file for changes.
// A missing file yields an empty rule set (everything classifies as "other").
// Invalid reloads are logged and ignored; the previous rules stay active.
func NewHolder(cfg config.Config, log *zap.Logger) (*Holder, error) {
	log = log.Named("groups")

	v := viper.New()
	if cfg.GroupsFile != "" {
		v.SetConfigFile(cfg.GroupsFile)
	} else {
		v.SetConfigName("feature_groups")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/flexwatch")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Warn("feature groups file not found, all features will classify as other")
	}

	parsed, err := unmarshalGroups(v)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(parsed)
	if err != nil {
		return nil, err
	}

	h := &Holder{log: log}
	h.current.Store(classifier)
	log.Info("feature groups loaded", zap.Int("groups", len(parsed.Groups)))

	v.WatchConfig()
	v.OnConfigChange(func(fsnotify.Event) {
		updated, err := unmarshalGroups(v)
		if err != nil {
			log.Warn("feature groups reload failed, keeping previous rules", zap.Error(err))
			return
		}
		next, err := NewClassifier(updated)
		if err != nil {
			log.Warn("invalid feature groups ignored", zap.Error(err))
			return
		}
		h.current.Store(next)
		log.Info("feature groups reloaded", zap.Int("groups", len(updated.Groups)))
	})

	return h, nil
}

// Classifier returns the active classifier.
func (h *Holder) Classifier() *Classifier {
	return h.current.Load().(*Classifier)
}

func unmarshalGroups(v *viper.Viper) (domain.Config, error) {
	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

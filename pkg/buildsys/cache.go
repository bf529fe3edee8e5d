package buildsys

import (
	"context"
	"encoding/gob"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

func init() {
	gob.Register(TaskList{})
	gob.Register(Task{})
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
}

// CacheKey identifies the inputs a cached task list was produced from
type CacheKey struct {
	Options    map[string]string
	ScriptTime time.Time
}

// Matches reports whether a cache written under key can be reused for other
func (k CacheKey) Matches(other CacheKey) bool {
	if !k.ScriptTime.Equal(other.ScriptTime) || len(k.Options) != len(other.Options) {
		return false
	}

	for name, value := range k.Options {
		if otherValue, ok := other.Options[name]; !ok || otherValue != value {
			return false
		}
	}
	return true
}

// NewCacheKey builds the key for the given script and option overrides
func NewCacheKey(script string, options map[string]string) (CacheKey, error) {
	info, err := os.Stat(script)
	if err != nil {
		return CacheKey{}, eris.Wrapf(err, "failed to check %s", script)
	}

	if options == nil {
		options = map[string]string{}
	}
	return CacheKey{Options: options, ScriptTime: info.ModTime()}, nil
}

func WriteCache(file string, key CacheKey, list TaskList) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	encoder := gob.NewEncoder(handle)
	err = encoder.Encode(key)
	if err != nil {
		return err
	}

	return encoder.Encode(list)
}

func ReadCache(file string) (CacheKey, TaskList, error) {
	handle, err := os.Open(file)
	if err != nil {
		return CacheKey{}, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var key CacheKey
	err = decoder.Decode(&key)
	if err != nil {
		return CacheKey{}, nil, err
	}

	var result TaskList
	err = decoder.Decode(&result)
	if err != nil {
		return key, nil, err
	}

	return key, result, nil
}

// LoadTasks returns the task list for script, reusing the cache file when it was written for the same script
// version and options. An empty cacheFile disables the cache.
func LoadTasks(ctx context.Context, script, projectRoot, cacheFile string, options map[string]string) (TaskList, error) {
	if cacheFile == "" {
		tasks, _, err := Parse(ctx, script, projectRoot, options)
		return tasks, err
	}

	key, err := NewCacheKey(script, options)
	if err != nil {
		return nil, err
	}

	cachedKey, tasks, err := ReadCache(cacheFile)
	if err == nil && cachedKey.Matches(key) {
		log(ctx).Debug().Msgf("Using cached tasks from %s", cacheFile)
		return tasks, nil
	}

	tasks, _, err = Parse(ctx, script, projectRoot, options)
	if err != nil {
		return nil, err
	}

	if err = WriteCache(cacheFile, key, tasks); err != nil {
		log(ctx).Warn().Err(err).Msgf("Failed to write %s", cacheFile)
	}
	return tasks, nil
}

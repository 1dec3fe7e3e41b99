// Package persistence implements the persistence controller of spec.md
// §4.I: timestamped, atomically-committed snapshots of every registered
// persistable, with retention pruning and crash-safe partial-record
// detection.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"concord/internal/contract"
	"concord/internal/trigger"
	"concord/internal/vclock"
)

// ManifestSchema is the current on-disk manifest schema version.
const ManifestSchema = 1

// Manifest is the record-level metadata written to manifest.json, per
// spec.md §6's persistence layout.
type Manifest struct {
	Schema      int      `json:"schema"`
	VirtualTime float64  `json:"virtual_time"`
	Components  []string `json:"components"`
}

const manifestName = "manifest.json"

type registered struct {
	path string // relative path within a record directory, e.g. "models/valuefn"
	p    contract.Persistable
}

// PauseResumer is the subset of internal/orchestrator.Orchestrator the
// controller needs to quiesce the runtime around a save, decoupled here
// to avoid an import cycle between the two packages.
type PauseResumer interface {
	Pause(timeout time.Duration) error
	Resume()
}

// Controller owns a root directory, a save cadence trigger, and the
// registry of persistables saved/restored together as one record.
type Controller struct {
	fs      afero.Fs
	rootDir string
	reg     []registered
	maxKeep int
	clock   *vclock.Clock
	runtime PauseResumer
	log     zerolog.Logger

	saveTrigger trigger.Trigger
	pauseGrace  time.Duration
}

// NewController returns a Controller rooted at rootDir. saveTrigger may
// be nil to disable periodic saves (explicit Save calls still work).
func NewController(fs afero.Fs, rootDir string, maxKeep int, clock *vclock.Clock, runtime PauseResumer, saveTrigger trigger.Trigger, pauseGrace time.Duration, log zerolog.Logger) *Controller {
	return &Controller{
		fs:          fs,
		rootDir:     rootDir,
		maxKeep:     maxKeep,
		clock:       clock,
		runtime:     runtime,
		saveTrigger: saveTrigger,
		pauseGrace:  pauseGrace,
		log:         log,
	}
}

// Register adds a persistable under a relative path within each record
// directory (e.g. "models/valuefn", "buffers/episodes", "trainers/mc").
// Registration order is preserved and used as load order.
func (c *Controller) Register(path string, p contract.Persistable) {
	c.reg = append(c.reg, registered{path: path, p: p})
}

// MaybeSave checks the configured save trigger and, if it fires, runs
// Save. The launchers in cmd/ poll it once a second.
func (c *Controller) MaybeSave(ctx context.Context) error {
	if c.saveTrigger == nil {
		return nil
	}
	if !c.saveTrigger.Fire(c.clock.Virtual()) {
		return nil
	}
	_, err := c.Save(ctx)
	return err
}

// Save runs the full save sequence of spec.md §4.I: pause, write a new
// timestamped record atomically, resume, then enforce retention.
func (c *Controller) Save(ctx context.Context) (string, error) {
	if err := c.runtime.Pause(c.pauseGrace); err != nil {
		return "", fmt.Errorf("persistence: pause for save: %w", err)
	}
	recordDir, err := c.writeRecord(ctx)
	c.runtime.Resume()
	if err != nil {
		return "", err
	}

	if err := c.enforceRetention(); err != nil {
		c.log.Warn().Err(err).Msg("retention pruning failed")
	}
	return recordDir, nil
}

func (c *Controller) writeRecord(ctx context.Context) (string, error) {
	timestamp := c.clock.WallClockTimestamp()
	final := filepath.Join(c.rootDir, timestamp)
	tmp := filepath.Join(c.rootDir, "."+timestamp+".tmp")

	if err := c.fs.MkdirAll(tmp, 0o755); err != nil {
		return "", fmt.Errorf("persistence: mkdir %s: %w", tmp, err)
	}

	names := make([]string, 0, len(c.reg))
	for _, r := range c.reg {
		dir := filepath.Join(tmp, r.path)
		if err := c.fs.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", fmt.Errorf("persistence: mkdir %s: %w", dir, err)
		}
		if err := r.p.SaveTo(c.fs, dir); err != nil {
			return "", fmt.Errorf("persistence: save %q: %w", r.path, err)
		}
		names = append(names, r.path)
	}

	manifest := Manifest{Schema: ManifestSchema, VirtualTime: c.clock.Virtual(), Components: names}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("persistence: marshal manifest: %w", err)
	}
	if err := afero.WriteFile(c.fs, filepath.Join(tmp, manifestName), data, 0o644); err != nil {
		return "", fmt.Errorf("persistence: write manifest: %w", err)
	}

	if err := c.fs.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("persistence: commit record %s: %w", final, err)
	}
	c.log.Info().Str("record", final).Int("components", len(names)).Msg("persistence record saved")
	return final, nil
}

// Load runs the load sequence of spec.md §4.I: find the latest record
// whose manifest parses, restore each registered persistable in
// registration order, then seed the virtual clock from the recorded
// offset. It is a no-op (returning "", nil) if no valid record exists.
func (c *Controller) Load(ctx context.Context) (string, error) {
	record, manifest, err := c.latestValidRecord()
	if err != nil {
		return "", err
	}
	if record == "" {
		return "", nil
	}

	for _, r := range c.reg {
		dir := filepath.Join(record, r.path)
		if err := r.p.LoadFrom(c.fs, dir); err != nil {
			return "", fmt.Errorf("persistence: restore %q from %s: %w", r.path, record, err)
		}
	}
	c.clock.SeedVirtual(manifest.VirtualTime)
	c.log.Info().Str("record", record).Float64("virtual_time", manifest.VirtualTime).Msg("restored persistence record")
	return record, nil
}

// LoadFrom restores from a specific record directory (the resume_from
// launcher option), rather than searching for the latest.
func (c *Controller) LoadFrom(ctx context.Context, record string) error {
	manifest, err := c.readManifest(record)
	if err != nil {
		return fmt.Errorf("persistence: load_from %s: %w", record, err)
	}
	for _, r := range c.reg {
		dir := filepath.Join(record, r.path)
		if err := r.p.LoadFrom(c.fs, dir); err != nil {
			return fmt.Errorf("persistence: restore %q from %s: %w", r.path, record, err)
		}
	}
	c.clock.SeedVirtual(manifest.VirtualTime)
	return nil
}

func (c *Controller) readManifest(record string) (Manifest, error) {
	var m Manifest
	data, err := afero.ReadFile(c.fs, filepath.Join(record, manifestName))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	return m, nil
}

// latestValidRecord returns the most recent record directory (by
// timestamp-sortable name) whose manifest.json parses successfully.
// Partial records (tmp-named, or missing a manifest) are skipped per
// spec.md §4.I's atomicity guarantee.
func (c *Controller) latestValidRecord() (string, Manifest, error) {
	entries, err := afero.ReadDir(c.fs, c.rootDir)
	if err != nil {
		if afero.IsNotExist(err) {
			return "", Manifest{}, nil
		}
		return "", Manifest{}, fmt.Errorf("persistence: list %s: %w", c.rootDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > 0 && e.Name()[0] != '.' {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		record := filepath.Join(c.rootDir, name)
		manifest, err := c.readManifest(record)
		if err != nil {
			continue
		}
		return record, manifest, nil
	}
	return "", Manifest{}, nil
}

// enforceRetention deletes the oldest records beyond maxKeep. A maxKeep
// of 0 disables pruning.
func (c *Controller) enforceRetention() error {
	if c.maxKeep <= 0 {
		return nil
	}
	entries, err := afero.ReadDir(c.fs, c.rootDir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) > 0 && e.Name()[0] != '.' {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) <= c.maxKeep {
		return nil
	}
	toDelete := names[:len(names)-c.maxKeep]
	for _, name := range toDelete {
		dir := filepath.Join(c.rootDir, name)
		if err := c.fs.RemoveAll(dir); err != nil {
			c.log.Warn().Str("record", dir).Err(err).Msg("failed to prune retained record")
			continue
		}
		c.log.Debug().Str("record", dir).Msg("pruned old persistence record")
	}
	return nil
}

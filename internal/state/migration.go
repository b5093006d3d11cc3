package state

import (
	"context"
	"log/slog"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

// migrateLegacyHarpoonLocked converts the pre-partitioning flat harpoon
// list into per-window partitions. It runs at most once: the legacy key
// is deleted after the partitioned slice is written, so a later
// Initialize finds the partitioned key and never re-enters. Callers
// must hold mu.
func (m *Manager) migrateLegacyHarpoonLocked(ctx context.Context) error {
	legacy, err := readSlice[[]Tab](ctx, m.store, KeyLegacyHarpoon)
	if err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to read legacy harpoon data")
	}
	if legacy == nil {
		return nil
	}

	partitions := make(map[int][]Tab)
	dropped := 0
	for _, tab := range *legacy {
		if tab.WindowID <= 0 {
			dropped++
			continue
		}
		partitions[tab.WindowID] = append(partitions[tab.WindowID], tab)
	}
	for windowID, partition := range partitions {
		partitions[windowID] = evictOldest(partition, m.maxHarpoonTabs)
	}
	m.harpoon = partitions

	if err := m.persist(ctx, KeyHarpoonTabs, encodePartitions(partitions)); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, KeyLegacyHarpoon); err != nil {
		return errors.Wrap(err, errors.CategoryPersistence, "failed to delete legacy harpoon key")
	}

	slog.Info("Migrated legacy harpoon data",
		"tabs", len(*legacy),
		"partitions", len(partitions),
		"dropped", dropped)
	return nil
}

package protection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/warden/pkg/document"
)

// KindSource streams documents whose kinds start with a prefix.
type KindSource interface {
	QueryByKindPrefix(ctx context.Context, prefix string, fn func(document.Document) error) error
}

// backupStat aggregates the snapshots found for one volume or disk.
type backupStat struct {
	count int
	last  *time.Time
}

func (b *backupStat) add(t *time.Time) {
	b.count++
	if t != nil && (b.last == nil || t.After(*b.last)) {
		ts := *t
		b.last = &ts
	}
}

// Index holds the cross references protection rules join on: snapshots by
// volume, volume attachments by instance and snapshots by disk.
type Index struct {
	snapshotsByVolume     map[string]*backupStat
	attachmentsByInstance map[string][]string
	snapshotsByDisk       map[string]*backupStat
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		snapshotsByVolume:     make(map[string]*backupStat),
		attachmentsByInstance: make(map[string][]string),
		snapshotsByDisk:       make(map[string]*backupStat),
	}
}

// BuildIndex streams snapshot and volume documents of one account corpus.
func BuildIndex(ctx context.Context, src KindSource, accountIdentifier string) (*Index, error) {
	ix := NewIndex()
	for _, prefix := range []string{KindAWSSnapshot, KindAWSVolume, KindGCPSnapshot} {
		err := src.QueryByKindPrefix(ctx, prefix, func(doc document.Document) error {
			if doc.InAccount(accountIdentifier) {
				ix.Add(doc)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("index %s documents: %w", prefix, err)
		}
	}
	return ix, nil
}

// Add records the cross references carried by doc. Documents of other
// kinds are ignored.
func (ix *Index) Add(doc document.Document) {
	switch {
	case doc.HasKind(KindAWSSnapshot):
		volumeID := document.FirstString(doc.Reported, "volume_id")
		if volumeID == "" {
			return
		}
		stat := ix.statFor(ix.snapshotsByVolume, volumeID)
		stat.add(snapshotTime(doc.Reported, "created_at", "start_time", "creation_date"))

	case doc.HasKind(KindAWSVolume):
		volumeID := document.FirstString(doc.Reported, "id", "volume_id")
		if volumeID == "" {
			return
		}
		for _, att := range listField(doc.Reported, "volume_attachments", "attachments") {
			instanceID := document.FirstString(att, "instance_id", "InstanceId")
			if instanceID != "" {
				ix.attach(instanceID, volumeID)
			}
		}

	case doc.HasKind(KindGCPSnapshot):
		source := document.FirstString(doc.Reported, "source_disk", "source_disk_id")
		if source == "" {
			return
		}
		ts := snapshotTime(doc.Reported, "creation_timestamp", "created_at", "creation_date")
		ix.statFor(ix.snapshotsByDisk, source).add(ts)
		ix.statFor(ix.snapshotsByDisk, diskNameKey(lastSegment(source))).add(ts)
	}
}

func (ix *Index) statFor(m map[string]*backupStat, key string) *backupStat {
	stat, ok := m[key]
	if !ok {
		stat = &backupStat{}
		m[key] = stat
	}
	return stat
}

func (ix *Index) attach(instanceID, volumeID string) {
	for _, existing := range ix.attachmentsByInstance[instanceID] {
		if existing == volumeID {
			return
		}
	}
	ix.attachmentsByInstance[instanceID] = append(ix.attachmentsByInstance[instanceID], volumeID)
}

// volumeBackups returns the snapshot stats of an AWS volume.
func (ix *Index) volumeBackups(volumeID string) backupStat {
	if stat, ok := ix.snapshotsByVolume[volumeID]; ok {
		return *stat
	}
	return backupStat{}
}

// diskBackups looks a GCP disk up by link first, then by name.
func (ix *Index) diskBackups(refs ...string) backupStat {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if stat, ok := ix.snapshotsByDisk[ref]; ok {
			return *stat
		}
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if stat, ok := ix.snapshotsByDisk[diskNameKey(lastSegment(ref))]; ok {
			return *stat
		}
	}
	return backupStat{}
}

func snapshotTime(reported document.Value, fields ...string) *time.Time {
	t, ok := document.FirstTime(reported, fields...)
	if !ok {
		return nil
	}
	return &t
}

func listField(v document.Value, fields ...string) []document.Value {
	for _, f := range fields {
		got, ok := v.Field(f)
		if !ok {
			continue
		}
		if items, ok := got.AsList(); ok {
			return items
		}
	}
	return nil
}

func lastSegment(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

func diskNameKey(name string) string {
	return "name:" + name
}

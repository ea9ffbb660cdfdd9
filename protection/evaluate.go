package protection

import (
	"strings"
	"time"

	"github.com/yairfalse/warden/pkg/document"
	"github.com/yairfalse/warden/pkg/resource"
)

// Evaluate computes the protection signal of a classified resource. The
// result depends only on the resource's family, its document and the index.
func (ix *Index) Evaluate(r resource.ClassifiedResource, doc document.Document) resource.ProtectionSignal {
	reported := doc.Reported

	switch FamilyOf(r.Kind) {
	case FamilyBlockVolume:
		return fromStat(ix.volumeBackups(volumeID(r, reported)))

	case FamilyComputeInstance:
		return ix.evaluateInstance(r, reported)

	case FamilyObjectBucket:
		return signal(versioningEnabled(reported, "versioning", "bucket_versioning", "versioning_enabled") ||
			present(reported, "replication_configuration", "bucket_replication"), nil)

	case FamilyRelationalDatabase:
		retention, ok := document.Get(reported, "backup_retention_period")
		days, numeric := retention.Float()
		return signal(ok && numeric && days > 0, restorableTime(reported))

	case FamilyDocumentDatabase:
		enabled := flagEnabled(reported,
			"point_in_time_recovery_enabled",
			"continuous_backups_enabled",
			"backup_enabled",
			"point_in_time_recovery_description.point_in_time_recovery_status",
		)
		return signal(enabled, restorableTime(reported))

	case FamilyGCPDisk:
		return fromStat(ix.diskBackups(diskRefs(r, reported)...))

	case FamilyGCPInstance:
		return ix.evaluateGCPInstance(reported)

	case FamilyGCPBucket:
		return signal(versioningEnabled(reported, "versioning_enabled", "versioning.enabled", "versioning") ||
			multiRegion(reported) ||
			present(reported, "replication", "rpo"), nil)

	case FamilyGCPSQLInstance:
		return signal(flagEnabled(reported, "settings.backup_configuration.enabled", "backup_enabled"), nil)
	}

	return signal(false, nil)
}

// evaluateInstance joins the instance's volumes from both directions: the
// volumes that list it as attached and its own block device mappings.
func (ix *Index) evaluateInstance(r resource.ClassifiedResource, reported document.Value) resource.ProtectionSignal {
	instanceID := document.FirstString(reported, "id", "instance_id")
	if instanceID == "" {
		instanceID = r.ResourceID
	}

	volumes := append([]string(nil), ix.attachmentsByInstance[instanceID]...)
	for _, field := range []string{"instance_block_device_mappings", "block_device_mappings"} {
		for _, mapping := range listField(reported, field) {
			if id := document.FirstString(mapping, "ebs.volume_id", "Ebs.VolumeId", "volume_id"); id != "" {
				volumes = append(volumes, id)
			}
		}
	}

	var combined backupStat
	for _, v := range volumes {
		stat := ix.volumeBackups(v)
		if stat.count == 0 {
			continue
		}
		combined.count += stat.count
		if stat.last != nil && (combined.last == nil || stat.last.After(*combined.last)) {
			combined.last = stat.last
		}
	}
	return fromStat(combined)
}

func (ix *Index) evaluateGCPInstance(reported document.Value) resource.ProtectionSignal {
	var combined backupStat
	for _, disk := range listField(reported, "disks", "attached_disks") {
		stat := ix.diskBackups(document.FirstString(disk, "source", "self_link", "device_name"))
		if stat.count == 0 {
			continue
		}
		combined.count += stat.count
		if stat.last != nil && (combined.last == nil || stat.last.After(*combined.last)) {
			combined.last = stat.last
		}
	}
	return fromStat(combined)
}

func volumeID(r resource.ClassifiedResource, reported document.Value) string {
	if id := document.FirstString(reported, "id", "volume_id"); id != "" {
		return id
	}
	return r.ResourceID
}

func diskRefs(r resource.ClassifiedResource, reported document.Value) []string {
	return []string{
		document.FirstString(reported, "self_link", "link"),
		document.FirstString(reported, "id"),
		document.FirstString(reported, "name"),
		r.ResourceID,
	}
}

// versioningEnabled accepts a boolean, the string "Enabled", or a
// {status: Enabled} / {enabled: true} object.
func versioningEnabled(reported document.Value, fields ...string) bool {
	for _, field := range fields {
		v, ok := document.Get(reported, field)
		if !ok {
			continue
		}
		if isEnabled(v) {
			return true
		}
		if v.Kind() == document.KindMap {
			if isEnabled(fieldOf(v, "status", "Status", "enabled", "Enabled")) {
				return true
			}
		}
	}
	return false
}

// flagEnabled reports whether any of the paths holds an enabled flag.
func flagEnabled(reported document.Value, paths ...string) bool {
	for _, path := range paths {
		if v, ok := document.Get(reported, path); ok && isEnabled(v) {
			return true
		}
	}
	return false
}

func isEnabled(v document.Value) bool {
	if b, ok := v.AsBool(); ok {
		return b
	}
	if s, ok := v.AsString(); ok {
		return strings.EqualFold(s, "enabled") || strings.EqualFold(s, "true")
	}
	return false
}

// present reports whether any field holds a non-empty value.
func present(reported document.Value, fields ...string) bool {
	for _, field := range fields {
		if v, ok := document.Get(reported, field); ok && v.Truthy() {
			return true
		}
	}
	return false
}

func multiRegion(reported document.Value) bool {
	switch strings.ToLower(document.FirstString(reported, "location_type")) {
	case "dual-region", "multi-region":
		return true
	}
	return false
}

func fieldOf(v document.Value, names ...string) document.Value {
	for _, name := range names {
		if got, ok := v.Field(name); ok {
			return got
		}
	}
	return document.Null()
}

func restorableTime(reported document.Value) *time.Time {
	return snapshotTime(reported, "latest_restorable_time", "latest_restorable_date_time")
}

func fromStat(stat backupStat) resource.ProtectionSignal {
	return signal(stat.count > 0, stat.last)
}

func signal(protected bool, last *time.Time) resource.ProtectionSignal {
	if !protected {
		return resource.ProtectionSignal{Status: resource.StatusUnprotected}
	}
	return resource.ProtectionSignal{Status: resource.StatusProtected, LastBackup: last}
}

// Package protection infers backup protection status per resource kind.
package protection

// Family is the closed set of resource families with a protection rule.
// Kinds outside the table are Unmodeled and never protected.
type Family string

const (
	FamilyUnmodeled          Family = "unmodeled"
	FamilyBlockVolume        Family = "block_volume"
	FamilyComputeInstance    Family = "compute_instance"
	FamilyObjectBucket       Family = "object_bucket"
	FamilyRelationalDatabase Family = "relational_database"
	FamilyDocumentDatabase   Family = "document_database"
	FamilyGCPDisk            Family = "gcp_disk"
	FamilyGCPInstance        Family = "gcp_instance"
	FamilyGCPBucket          Family = "gcp_bucket"
	FamilyGCPSQLInstance     Family = "gcp_sql_instance"
)

// Kinds consulted while building the cross-reference index.
const (
	KindAWSSnapshot = "aws_ec2_snapshot"
	KindAWSVolume   = "aws_ec2_volume"
	KindGCPSnapshot = "gcp_snapshot"
)

var familyByKind = map[string]Family{
	"aws_ec2_volume":            FamilyBlockVolume,
	"aws_ec2_instance":          FamilyComputeInstance,
	"aws_s3_bucket":             FamilyObjectBucket,
	"aws_rds_instance":          FamilyRelationalDatabase,
	"aws_rds_cluster":           FamilyRelationalDatabase,
	"aws_dynamodb_table":        FamilyDocumentDatabase,
	"gcp_disk":                  FamilyGCPDisk,
	"gcp_instance":              FamilyGCPInstance,
	"gcp_bucket":                FamilyGCPBucket,
	"gcp_sql_database_instance": FamilyGCPSQLInstance,
}

var typeLabels = map[string]string{
	"aws_ec2_volume":            "EBS Volume",
	"aws_ec2_instance":          "EC2 Instance",
	"aws_s3_bucket":             "S3 Bucket",
	"aws_rds_instance":          "RDS Instance",
	"aws_rds_cluster":           "RDS Cluster",
	"aws_dynamodb_table":        "DynamoDB Table",
	"gcp_disk":                  "Persistent Disk",
	"gcp_instance":              "Compute Engine Instance",
	"gcp_bucket":                "Cloud Storage Bucket",
	"gcp_sql_database_instance": "Cloud SQL Instance",
}

// FamilyOf maps a kind to its family.
func FamilyOf(kind string) Family {
	if f, ok := familyByKind[kind]; ok {
		return f
	}
	return FamilyUnmodeled
}

// Families lists every modeled family.
func Families() []Family {
	return []Family{
		FamilyBlockVolume,
		FamilyComputeInstance,
		FamilyObjectBucket,
		FamilyRelationalDatabase,
		FamilyDocumentDatabase,
		FamilyGCPDisk,
		FamilyGCPInstance,
		FamilyGCPBucket,
		FamilyGCPSQLInstance,
	}
}

// TypeLabel returns the display type of a kind. Unmodeled kinds keep the
// raw tag.
func TypeLabel(kind string) string {
	if label, ok := typeLabels[kind]; ok {
		return label
	}
	return kind
}

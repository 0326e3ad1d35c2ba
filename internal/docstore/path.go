package docstore

import (
	"fmt"
	"strings"
)

// Path builders for the catalog hierarchy. All engine code goes through these
// so the layout lives in one place.

// ProductPath is orgs/{org}/products/{product}.
func ProductPath(org, productID string) string {
	return fmt.Sprintf("orgs/%s/products/%s", org, productID)
}

// VersionsCollection is the collection holding a product's snapshots.
func VersionsCollection(org, productID string) string {
	return ProductPath(org, productID) + "/versions"
}

// VersionPath is a single product version snapshot.
func VersionPath(org, productID, versionID string) string {
	return VersionsCollection(org, productID) + "/" + versionID
}

// ProgramsCollection holds the per-jurisdiction program records for a version.
func ProgramsCollection(org, productID, versionID string) string {
	return VersionPath(org, productID, versionID) + "/programs"
}

// ProgramPath is the program record for one jurisdiction code.
func ProgramPath(org, productID, versionID, stateCode string) string {
	return ProgramsCollection(org, productID, versionID) + "/" + strings.ToUpper(stateCode)
}

// BundlesCollection holds an org's change bundles.
func BundlesCollection(org string) string {
	return fmt.Sprintf("orgs/%s/bundles", org)
}

// BundlePath is a single change bundle.
func BundlePath(org, bundleID string) string {
	return BundlesCollection(org) + "/" + bundleID
}

// BundleItemsCollection holds a bundle's items.
func BundleItemsCollection(org, bundleID string) string {
	return BundlePath(org, bundleID) + "/items"
}

// BundleItemPath is a single bundle item.
func BundleItemPath(org, bundleID, itemID string) string {
	return BundleItemsCollection(org, bundleID) + "/" + itemID
}

// BundleApprovalsCollection holds a bundle's approval records.
func BundleApprovalsCollection(org, bundleID string) string {
	return BundlePath(org, bundleID) + "/approvals"
}

// BundleApprovalPath is a single approval record.
func BundleApprovalPath(org, bundleID, approvalID string) string {
	return BundleApprovalsCollection(org, bundleID) + "/" + approvalID
}

// FormsCollection holds an org's form artifacts.
func FormsCollection(org string) string {
	return fmt.Sprintf("orgs/%s/forms", org)
}

// RulesCollection holds an org's rule artifacts.
func RulesCollection(org string) string {
	return fmt.Sprintf("orgs/%s/rules", org)
}

// RatesCollection holds an org's rate program artifacts.
func RatesCollection(org string) string {
	return fmt.Sprintf("orgs/%s/rates", org)
}

// AuditCollection holds an org's audit trail.
func AuditCollection(org string) string {
	return fmt.Sprintf("orgs/%s/audit", org)
}

// AuditPath is a single audit entry.
func AuditPath(org, eventID string) string {
	return AuditCollection(org) + "/" + eventID
}

// Collection returns the collection a document path belongs to.
func Collection(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func lastSegment(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

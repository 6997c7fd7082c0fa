package stores

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oarkflow/dynauth"
)

// Key schema. Permission records key subject against identity so "all
// permissions for a subject" is one partition query; the sort key carries
// effect and action so distinct rules for the same identity/subject pair
// coexist under the uniqueness invariant. The inverted index keys on the
// identity portion of the sort key so "all permissions for an identity" is
// one index query. Group records are self-keyed points; membership records
// key user against group with the group side indexed.
const (
	permPrefix       = "ip"
	groupPrefix      = "groupids"
	membershipPrefix = "assigned"
	sep              = "#"
)

func permPartition(subjectType, subjectID string) string {
	return permPrefix + sep + subjectType + sep + subjectID
}

func permIdentity(identityType dynauth.IdentityType, identityID string) string {
	return permPrefix + sep + string(identityType) + sep + identityID
}

func permSort(p dynauth.IdentityPermission) string {
	return permIdentity(p.Identity.Type, p.Identity.ID) + sep + string(p.Effect) + sep + string(p.Action)
}

func permKey(p dynauth.IdentityPermission) Key {
	return Key{
		Partition: permPartition(p.Subject.Type, p.Subject.ID),
		Sort:      permSort(p),
	}
}

func permRecord(p dynauth.IdentityPermission) (Record, error) {
	doc, err := json.Marshal(p)
	if err != nil {
		return Record{}, fmt.Errorf("marshal identity permission: %w", err)
	}
	return Record{
		Partition: permPartition(p.Subject.Type, p.Subject.ID),
		Sort:      permSort(p),
		Index:     permIdentity(p.Identity.Type, p.Identity.ID),
		Action:    string(p.Action),
		Doc:       doc,
	}, nil
}

func decodePermission(rec Record) (dynauth.IdentityPermission, error) {
	var p dynauth.IdentityPermission
	if err := json.Unmarshal(rec.Doc, &p); err != nil {
		return p, fmt.Errorf("decode identity permission %s/%s: %w", rec.Partition, rec.Sort, err)
	}
	return p, nil
}

func groupKey(groupID string) Key {
	k := groupPrefix + sep + string(dynauth.IdentityGroup) + sep + groupID
	return Key{Partition: k, Sort: k}
}

func groupRecord(g dynauth.Group) (Record, error) {
	doc, err := json.Marshal(g)
	if err != nil {
		return Record{}, fmt.Errorf("marshal group: %w", err)
	}
	key := groupKey(g.ID)
	return Record{Partition: key.Partition, Sort: key.Sort, Doc: doc}, nil
}

func membershipUserPartition(userID string) string {
	return membershipPrefix + sep + string(dynauth.IdentityUser) + sep + userID
}

func membershipGroupSort(groupID string) string {
	return membershipPrefix + sep + string(dynauth.IdentityGroup) + sep + groupID
}

func membershipRecord(userID, groupID string) Record {
	return Record{
		Partition: membershipUserPartition(userID),
		Sort:      membershipGroupSort(groupID),
		Index:     membershipGroupSort(groupID),
	}
}

// groupIDFromSort extracts the group id from a membership sort key.
func groupIDFromSort(sort string) (string, bool) {
	return trailingID(sort, membershipPrefix+sep+string(dynauth.IdentityGroup)+sep)
}

// userIDFromPartition extracts the user id from a membership partition key.
func userIDFromPartition(partition string) (string, bool) {
	return trailingID(partition, membershipPrefix+sep+string(dynauth.IdentityUser)+sep)
}

func trailingID(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

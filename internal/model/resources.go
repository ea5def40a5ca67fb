package model

import "encoding/json"

// Organization is a Cloud Controller organization. Raw keeps the resource
// exactly as the Cloud Controller returned it so it can be echoed back.
type Organization struct {
	GUID string
	Name string
	Raw  json.RawMessage
}

// UserIdentity is a UAA user resolved by username.
type UserIdentity struct {
	ID       string `json:"id"`
	Username string `json:"userName"`
}

// OrganizationList is the Cloud Controller v2 paged list envelope.
type OrganizationList struct {
	TotalResults int               `json:"total_results"`
	Resources    []json.RawMessage `json:"resources"`
}

// UserList is the UAA SCIM list envelope.
type UserList struct {
	TotalResults int            `json:"totalResults"`
	Resources    []UserIdentity `json:"resources"`
}

type orgResource struct {
	GUID     string `json:"guid"`
	Metadata struct {
		GUID string `json:"guid"`
	} `json:"metadata"`
	Entity struct {
		Name string `json:"name"`
	} `json:"entity"`
	Name string `json:"name"`
}

// ParseOrganization decodes a Cloud Controller organization resource.
// The v2 shape keeps the identifier under metadata.guid; a flat top-level
// guid is accepted as well.
func ParseOrganization(raw []byte) (Organization, error) {
	var r orgResource
	if err := json.Unmarshal(raw, &r); err != nil {
		return Organization{}, err
	}
	org := Organization{
		GUID: r.Metadata.GUID,
		Name: r.Entity.Name,
		Raw:  json.RawMessage(raw),
	}
	if org.GUID == "" {
		org.GUID = r.GUID
	}
	if org.Name == "" {
		org.Name = r.Name
	}
	return org, nil
}

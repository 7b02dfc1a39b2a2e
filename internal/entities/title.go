// Package entities holds the reader's stored entity types, their catalogs
// and their row mappers.
package entities

import (
	"errors"
	"path"
	"strings"
)

// PageTitle names a page on one wiki site.
type PageTitle struct {
	Namespace string `json:"namespace,omitempty"`
	Text      string `json:"text"`
	Site      string `json:"site"`
}

// PrefixedText returns the title with its namespace prefix, e.g. "Talk:Earth".
func (t PageTitle) PrefixedText() string {
	if t.Namespace == "" {
		return t.Text
	}
	return t.Namespace + ":" + t.Text
}

// Validate checks the title can be stored.
func (t PageTitle) Validate() error {
	if strings.TrimSpace(t.Site) == "" {
		return errors.New("site is required")
	}
	if strings.TrimSpace(t.Text) == "" {
		return errors.New("title text is required")
	}
	return nil
}

// ParseTitle splits a stored prefixed title back into namespace and text.
func ParseTitle(site, namespace, prefixed string) PageTitle {
	if namespace != "" && strings.HasPrefix(prefixed, namespace+":") {
		return PageTitle{Namespace: namespace, Text: strings.TrimPrefix(prefixed, namespace+":"), Site: site}
	}
	return PageTitle{Namespace: namespace, Text: prefixed, Site: site}
}

// StorageName is the slash separated name of the page's files below the
// saved pages directory.
func (t PageTitle) StorageName() string {
	return path.Join(t.Site, strings.ReplaceAll(t.PrefixedText(), " ", "_"))
}

// Package phonebook fetches the gateway's TR-064 phonebook over
// Digest-authenticated HTTP, parses it, and resolves phone numbers to
// contact names using configurable prefix equivalence sets.
package phonebook

import (
	"encoding/xml"
	"fmt"
	"regexp"
)

// Contact is one phonebook entry, immutable once loaded.
type Contact struct {
	Name    string
	Numbers []string
	VIP     bool
}

// numberJunk matches everything that is not a digit or a leading-plus sign.
var numberJunk = regexp.MustCompile(`[^\d+]`)

// NormalizeNumber strips formatting (spaces, dashes, parentheses) from a
// phone number, keeping only digits and "+".
func NormalizeNumber(number string) string {
	return numberJunk.ReplaceAllString(number, "")
}

// The phonebook XML schema is a fixed contract with the gateway vendor:
// phonebooks/phonebook/contact, each contact carrying person/realName,
// telephony/number entries and a category flag (1 = VIP).
type phonebooksXML struct {
	XMLName  xml.Name     `xml:"phonebooks"`
	Contacts []contactXML `xml:"phonebook>contact"`
}

type contactXML struct {
	Category string   `xml:"category"`
	RealName string   `xml:"person>realName"`
	Numbers  []string `xml:"telephony>number"`
}

// ParseError reports a phonebook document that could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing phonebook xml: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParsePhonebook decodes a phonebook XML document into contacts. Entries
// without a name are skipped; numbers are normalized and empty ones dropped.
func ParsePhonebook(doc []byte) ([]Contact, error) {
	var parsed phonebooksXML
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return nil, &ParseError{Err: err}
	}

	var contacts []Contact
	for _, entry := range parsed.Contacts {
		if entry.RealName == "" {
			continue
		}
		c := Contact{
			Name: entry.RealName,
			VIP:  entry.Category == "1",
		}
		for _, raw := range entry.Numbers {
			if n := NormalizeNumber(raw); n != "" {
				c.Numbers = append(c.Numbers, n)
			}
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

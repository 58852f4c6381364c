package phonebook

import (
	"errors"
	"testing"
)

const samplePhonebook = `<?xml version="1.0" encoding="utf-8"?>
<phonebooks>
  <phonebook name="Telefonbuch">
    <contact>
      <category>0</category>
      <person><realName>Mario Rossi</realName></person>
      <telephony nid="2">
        <number type="home" prio="1" id="0">+39 348 9963985</number>
        <number type="work" id="1">02 1234567</number>
      </telephony>
    </contact>
    <contact>
      <category>1</category>
      <person><realName>Anna Bianchi</realName></person>
      <telephony nid="1">
        <number type="mobile" id="0">335 1234567</number>
      </telephony>
    </contact>
    <contact>
      <category>0</category>
      <person><realName></realName></person>
      <telephony><number>123</number></telephony>
    </contact>
  </phonebook>
</phonebooks>`

func TestParsePhonebook(t *testing.T) {
	contacts, err := ParsePhonebook([]byte(samplePhonebook))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(contacts) != 2 {
		t.Fatalf("len(contacts) = %d, want 2 (nameless entry skipped)", len(contacts))
	}

	mario := contacts[0]
	if mario.Name != "Mario Rossi" {
		t.Errorf("Name = %q, want Mario Rossi", mario.Name)
	}
	if mario.VIP {
		t.Error("Mario marked VIP, want false")
	}
	if len(mario.Numbers) != 2 || mario.Numbers[0] != "+393489963985" || mario.Numbers[1] != "021234567" {
		t.Errorf("Numbers = %v, want normalized forms", mario.Numbers)
	}

	anna := contacts[1]
	if !anna.VIP {
		t.Error("Anna not marked VIP, want true")
	}
	if len(anna.Numbers) != 1 || anna.Numbers[0] != "3351234567" {
		t.Errorf("Numbers = %v", anna.Numbers)
	}
}

func TestParsePhonebookBadXML(t *testing.T) {
	_, err := ParsePhonebook([]byte("<phonebooks><contact>"))
	if err == nil {
		t.Fatal("expected error for truncated document")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("error %v is not a ParseError", err)
	}
}

func TestParsePhonebookEmpty(t *testing.T) {
	contacts, err := ParsePhonebook([]byte(`<phonebooks><phonebook/></phonebooks>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("len(contacts) = %d, want 0", len(contacts))
	}
}

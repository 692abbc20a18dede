package whatsapp

import (
	"strings"

	"github.com/BTreeMap/WhatsFlow/internal/models"
)

// BuildVCard renders a contact as a vCard 3.0 document.
func BuildVCard(c models.Contact) string {
	var b strings.Builder
	line := func(parts ...string) {
		b.WriteString(strings.Join(parts, ""))
		b.WriteString("\n")
	}

	line("BEGIN:VCARD")
	line("VERSION:3.0")
	n := c.Name
	line("N:", vcardEscape(n.LastName), ";", vcardEscape(n.FirstName), ";", vcardEscape(n.MiddleName), ";", vcardEscape(n.Prefix), ";", vcardEscape(n.Suffix))
	line("FN:", vcardEscape(n.FormattedName))
	if c.Org.Company != "" || c.Org.Department != "" {
		org := vcardEscape(c.Org.Company)
		if c.Org.Department != "" {
			org += ";" + vcardEscape(c.Org.Department)
		}
		line("ORG:", org)
	}
	if c.Org.Title != "" {
		line("TITLE:", vcardEscape(c.Org.Title))
	}
	for _, p := range c.Phones {
		params := "TEL;TYPE=" + vcardType(p.Type, "CELL")
		if p.WaID != "" {
			params += ";waid=" + p.WaID
		}
		line(params, ":", p.Phone)
	}
	for _, e := range c.Emails {
		line("EMAIL;TYPE=", vcardType(e.Type, "INTERNET"), ":", e.Email)
	}
	for _, a := range c.Addresses {
		line("ADR;TYPE=", vcardType(a.Type, "WORK"), ":;;", vcardEscape(a.Street), ";", vcardEscape(a.City), ";",
			vcardEscape(a.State), ";", vcardEscape(a.Zip), ";", vcardEscape(a.Country))
	}
	for _, u := range c.URLs {
		line("URL;TYPE=", vcardType(u.Type, "WORK"), ":", u.URL)
	}
	line("END:VCARD")
	return b.String()
}

func vcardType(t, fallback string) string {
	if t == "" {
		return fallback
	}
	return strings.ToUpper(t)
}

var vcardEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`)

func vcardEscape(s string) string {
	return vcardEscaper.Replace(s)
}

package dissect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawType struct {
	Raw, Type string
}

func pairs(cands []Candidate) []rawType {
	out := make([]rawType, 0, len(cands))
	for _, c := range cands {
		out = append(out, rawType{c.Raw, c.Type})
	}
	return out
}

func TestDissectFromHeader(t *testing.T) {
	msg := &Message{Header: map[string][]string{
		"message-id": {"<1@example.com>"},
		"from":       {"Alice <alice@evil.tld>"},
	}}
	cands := Dissect(msg, nil)
	assert.Equal(t, []rawType{
		{"alice@evil.tld", TypeFrom},
		{"evil.tld", TypeFrom},
	}, pairs(cands))
	for _, c := range cands {
		assert.Equal(t, GroupSender, c.Group)
		assert.Equal(t, cands[0].Seq, c.Seq)
	}
}

func TestDissectHeaderOrder(t *testing.T) {
	msg := &Message{Header: map[string][]string{
		"from":        {"a@one.tld"},
		"sender":      {"b@two.tld", "c@three.tld"},
		"reply-to":    {"Reply <r@mail.reply.co.uk>"},
		"return-path": {"<bounce@ret.tld>", "<>"},
		"received":    {"from mx.evil.tld by mx.example.com"},
	}}
	assert.Equal(t, []rawType{
		{"a@one.tld", TypeFrom},
		{"one.tld", TypeFrom},
		{"b@two.tld", TypeSender},
		{"two.tld", TypeSender},
		{"c@three.tld", TypeSender},
		{"three.tld", TypeSender},
		{"r@mail.reply.co.uk", TypeReplyTo},
		{"mail.reply.co.uk", TypeReplyTo},
		{"reply.co.uk", TypeReplyTo + "_domain"},
		{"bounce@ret.tld", TypeReturnPath},
		{"ret.tld", TypeReturnPath},
	}, pairs(Dissect(msg, nil)))
}

func TestDissectAddressList(t *testing.T) {
	msg := &Message{Header: map[string][]string{
		"from": {"A <a@x.tld>, b@y.tld"},
	}}
	cands := Dissect(msg, nil)
	require.Len(t, cands, 4)
	assert.Equal(t, "a@x.tld", cands[0].Raw)
	assert.Equal(t, "b@y.tld", cands[2].Raw)
	assert.NotEqual(t, cands[0].Seq, cands[2].Seq)
}

func TestDissectAddressWithoutDomain(t *testing.T) {
	msg := &Message{Header: map[string][]string{"from": {"<postmaster>"}}}
	assert.Equal(t, []rawType{{"postmaster", TypeFrom}}, pairs(Dissect(msg, nil)))
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.co.uk", RegistrableDomain("login.example.co.uk"))
	assert.Equal(t, "example.com", RegistrableDomain("a.b.EXAMPLE.com."))
	assert.Equal(t, "evil.tld", RegistrableDomain("evil.tld"))
	assert.Empty(t, RegistrableDomain("co.uk"))
	assert.Empty(t, RegistrableDomain("192.168.1.1"))
	assert.Empty(t, RegistrableDomain(""))
}

func TestDissectHTMLLinks(t *testing.T) {
	body := `<p>Hi</p>
<a href="https://login.example.co.uk/a">x</a>
<a href='#top'>t</a>
<a href="">e</a>
<a class="btn" href="mailto:bob@phish.tld?subject=hi">m</a>
<a href="javascript:alert(1)">j</a>
<A HREF="www.nosch.example/p">n</A>`
	msg := &Message{Parts: []*Part{{ContentType: "text/html", Body: body}}}
	cands := Dissect(msg, nil)
	assert.Equal(t, []rawType{
		{"login.example.co.uk", TypeLink},
		{"example.co.uk", TypeLink + "_domain"},
		{"bob@phish.tld", TypeMailto},
		{"phish.tld", TypeMailto},
		{"www.nosch.example", TypeLink},
		{"nosch.example", TypeLink + "_domain"},
	}, pairs(cands))
	assert.Equal(t, GroupLinks, cands[0].Group)
	assert.Equal(t, GroupAddresses, cands[2].Group)
}

func TestTextLinks(t *testing.T) {
	body := "Visit http://foo.example/path. Or (https://bar.example/x)\nftp://files.example/f<br>"
	assert.Equal(t, []string{
		"http://foo.example/path",
		"https://bar.example/x",
		"ftp://files.example/f",
	}, TextLinks(body))
}

func TestDissectAlternativePrefersHTML(t *testing.T) {
	msg := &Message{Parts: []*Part{{
		ContentType: "multipart/alternative",
		Parts: []*Part{
			{ContentType: "text/plain", Body: "see http://plain.example/"},
			{ContentType: "text/html", Body: `<a href="http://html.example/">x</a>`},
		},
	}}}
	assert.Equal(t, []rawType{{"html.example", TypeLink}}, pairs(Dissect(msg, nil)))

	msg.Parts[0].Parts = msg.Parts[0].Parts[:1]
	assert.Equal(t, []rawType{{"plain.example", TypeLink}}, pairs(Dissect(msg, nil)))
}

func TestDissectMixedRecursesAndSkipsUnknown(t *testing.T) {
	msg := &Message{Parts: []*Part{{
		ContentType: "multipart/mixed",
		Parts: []*Part{
			{ContentType: "text/plain", Body: "http://one.example/"},
			{ContentType: "application/pdf", Body: "http://pdf.example/"},
			{ContentType: "multipart/signed", Parts: []*Part{
				{ContentType: "text/plain", Body: "http://two.example/"},
			}},
		},
	}}}
	assert.Equal(t, []rawType{
		{"one.example", TypeLink},
		{"two.example", TypeLink},
	}, pairs(Dissect(msg, nil)))
}

func TestDissectHopsProduceNothing(t *testing.T) {
	msg := &Message{Header: map[string][]string{
		"received":   {"from a by b", "from c by d"},
		"x-received": {"by 10.0.0.1"},
	}}
	assert.Empty(t, Dissect(msg, nil))
}

const rawMessage = "From: Alice <alice@evil.tld>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: =?UTF-8?Q?Caf=C3=A9?=\r\n" +
	"Date: Mon, 2 Jan 2023 10:00:00 +0000\r\n" +
	"Message-ID: <abc@evil.tld>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Go to http://plain.example/\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"<a href=3D\"https://login.example.co.uk/\">login</a>\r\n" +
	"--b1--\r\n"

func TestParse(t *testing.T) {
	msg, err := Parse(strings.NewReader(rawMessage))
	require.NoError(t, err)

	assert.Equal(t, "<abc@evil.tld>", msg.MessageID())
	assert.Equal(t, "Café", msg.Get("subject"))
	assert.Equal(t, "From Alice <alice@evil.tld> (Mon, 2 Jan 2023 10:00:00 +0000)", msg.Label())

	require.Len(t, msg.Parts, 1)
	root := msg.Parts[0]
	assert.Equal(t, "multipart/alternative", root.ContentType)
	require.Len(t, root.Parts, 2)
	assert.Contains(t, root.Parts[1].Body, `href="https://login.example.co.uk/"`)

	assert.Equal(t, []rawType{
		{"alice@evil.tld", TypeFrom},
		{"evil.tld", TypeFrom},
		{"login.example.co.uk", TypeLink},
		{"example.co.uk", TypeLink + "_domain"},
	}, pairs(Dissect(msg, nil)))
}

func TestParseSinglePart(t *testing.T) {
	raw := "From: a@b.tld\r\nMessage-ID: <x@b.tld>\r\n\r\nhttp://c.example/\r\n"
	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, msg.Parts, 1)
	assert.Equal(t, "text/plain", msg.Parts[0].ContentType)
	assert.Contains(t, msg.Parts[0].Body, "http://c.example/")
}

func TestReadMbox(t *testing.T) {
	box := "From alice@evil.tld Mon Jan  2 10:00:00 2023\n" +
		"From: alice@evil.tld\n" +
		"Message-ID: <1@evil.tld>\n" +
		"\n" +
		"first\n" +
		"\n" +
		"From bob@example.com Mon Jan  2 11:00:00 2023\n" +
		"From: bob@example.com\n" +
		"Message-ID: <2@example.com>\n" +
		"\n" +
		"second\n"

	var ids []string
	err := ReadMbox(strings.NewReader(box), func(msg *Message, err error) error {
		require.NoError(t, err)
		ids = append(ids, msg.MessageID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"<1@evil.tld>", "<2@example.com>"}, ids)
}

package gateway

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// Envelope is the SMTP envelope of a submitted message.
type Envelope struct {
	From string
	To   []string
}

type submitInfo struct {
	subject  string
	addedBcc []string
}

// prepare appends envelope recipients that no To, Cc or Bcc header names to
// a Bcc header. Gmail routes raw sends by header, so without this an SMTP
// blind copy would be dropped. The body is passed through byte for byte.
func prepare(data []byte, env Envelope) ([]byte, submitInfo, error) {
	br := bufio.NewReader(bytes.NewReader(data))
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, submitInfo{}, fmt.Errorf("read header: %w", err)
	}
	mh := mail.Header{Header: message.Header{Header: hdr}}

	var info submitInfo
	if subject, subjErr := mh.Subject(); subjErr == nil {
		info.subject = subject
	}

	addressed := map[string]bool{}
	for _, key := range []string{"To", "Cc", "Bcc"} {
		list, _ := mh.AddressList(key)
		for _, addr := range list {
			addressed[normalizeAddress(addr.Address)] = true
		}
	}
	for _, rcpt := range env.To {
		norm := normalizeAddress(rcpt)
		if norm == "" || addressed[norm] {
			continue
		}
		addressed[norm] = true
		info.addedBcc = append(info.addedBcc, norm)
	}
	if len(info.addedBcc) == 0 {
		return data, info, nil
	}

	bcc, _ := mh.AddressList("Bcc")
	for _, addr := range info.addedBcc {
		bcc = append(bcc, &mail.Address{Address: addr})
	}
	mh.SetAddressList("Bcc", bcc)

	var out bytes.Buffer
	if err := textproto.WriteHeader(&out, mh.Header.Header); err != nil {
		return nil, info, fmt.Errorf("write header: %w", err)
	}
	if _, err := io.Copy(&out, br); err != nil {
		return nil, info, fmt.Errorf("copy body: %w", err)
	}
	return out.Bytes(), info, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(addr)
}

package utils

import (
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"mailpilot/models"
)

// InboundMessage is the transport-level view of one fetched mailbox message
type InboundMessage struct {
	UID       uint32
	MessageID string
	InReplyTo string
	From      string
	To        string
	Subject   string
	Body      string
	BodyHTML  string
	Date      time.Time
	IsWarmup  bool // carries the X-Warmup marker header
}

// MailboxReader is the fetching transport collaborator: messages strictly
// newer than lastUID, ascending, finite per call, restartable from any
// cursor.
type MailboxReader interface {
	FetchSince(sender *models.Sender, lastUID uint32) ([]InboundMessage, error)
}

// IMAPReader fetches over IMAP with each sender's own credentials
type IMAPReader struct{}

func NewIMAPReader() *IMAPReader {
	return &IMAPReader{}
}

func (r *IMAPReader) FetchSince(sender *models.Sender, lastUID uint32) ([]InboundMessage, error) {
	password, err := Decrypt(sender.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	imapClient, err := dialIMAP(sender)
	if err != nil {
		return nil, err
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := sender.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", mailbox, err)
	}

	// UID range strictly above the cursor
	searchRange := new(imap.SeqSet)
	searchRange.AddRange(lastUID+1, 0)
	criteria := imap.NewSearchCriteria()
	criteria.Uid = searchRange

	uids, err := imapClient.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.UidFetch(seqset, items, messages)
	}()

	var fetched []InboundMessage
	for msg := range messages {
		// UidSearch can return ids at or below the cursor on some
		// servers; drop them rather than reprocess.
		if msg.Uid <= lastUID {
			continue
		}
		fetched = append(fetched, parseIMAPMessage(msg, section))
	}

	if err := <-done; err != nil {
		return fetched, fmt.Errorf("error during fetch: %w", err)
	}

	sort.Slice(fetched, func(i, j int) bool { return fetched[i].UID < fetched[j].UID })
	return fetched, nil
}

func dialIMAP(sender *models.Sender) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)
	tlsConfig := &tls.Config{ServerName: sender.IMAPHost}

	var imapClient *client.Client
	var err error
	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		imapClient, err = client.Dial(addr)
		if err == nil {
			err = imapClient.StartTLS(tlsConfig)
		}
	default:
		imapClient, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	return imapClient, nil
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) InboundMessage {
	inbound := InboundMessage{UID: msg.Uid}

	if msg.Envelope != nil {
		inbound.MessageID = msg.Envelope.MessageId
		inbound.InReplyTo = msg.Envelope.InReplyTo
		inbound.From = formatAddressList(msg.Envelope.From)
		inbound.To = formatAddressList(msg.Envelope.To)
		inbound.Subject = msg.Envelope.Subject
		inbound.Date = msg.Envelope.Date
	}

	literal, ok := msg.Body[section]
	if !ok {
		return inbound
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return inbound
	}
	inbound.IsWarmup = mr.Header.Get("X-Warmup") == "true"

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		if strings.Contains(contentType, "text/html") {
			inbound.BodyHTML = string(content)
		} else if strings.Contains(contentType, "text/plain") {
			inbound.Body = string(content)
		}
	}

	return inbound
}

func formatAddressList(addrs []*imap.Address) string {
	var result []string
	for _, addr := range addrs {
		if addr.PersonalName != "" {
			result = append(result, fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName))
		} else {
			result = append(result, fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName))
		}
	}
	return strings.Join(result, ", ")
}

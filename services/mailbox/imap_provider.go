package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dmarcwatch/dmarcwatch/interfaces"
	cerrors "github.com/dmarcwatch/dmarcwatch/internal/errors"
	"github.com/dmarcwatch/dmarcwatch/internal/models"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
)

const searchPageSize = 50

// imapProvider implements the provider surface over one account's IMAP
// connection. Message ids are decimal UIDs within the inbox folder; the
// connection is established lazily and reused for the provider's lifetime.
type imapProvider struct {
	account *models.MailboxAccount

	clientMutex sync.Mutex
	client      *client.Client

	// last parsed message, so GetAttachment after GetMessage skips a refetch
	cacheMutex     sync.Mutex
	cachedUID      string
	cachedEnvelope *enmime.Envelope
}

func newIMAPProvider(account *models.MailboxAccount) *imapProvider {
	return &imapProvider{account: account}
}

// Search lists inbox message UIDs, oldest first, one fixed-size page at a
// time. The page token is the last UID already handed out, not an offset:
// archiving expunges processed messages mid-sync, so an offset into a fresh
// UID listing would skip unprocessed mail.
func (p *imapProvider) Search(ctx context.Context, query string, pageToken string) (*interfaces.SearchPage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapProvider.Search")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("mailbox.id", p.account.ID)

	c, err := p.getConnectedClient(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if _, err := c.Select(p.account.InboxFolder, false); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "select folder %s", p.account.InboxFolder)
	}

	criteria := imap.NewSearchCriteria()
	if query != "" {
		criteria.Text = []string{query}
	}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "uid search")
	}

	pageUIDs, nextToken, err := pageAfter(uids, pageToken, searchPageSize)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	page := &interfaces.SearchPage{NextToken: nextToken}
	for _, uid := range pageUIDs {
		page.MessageIDs = append(page.MessageIDs, strconv.FormatUint(uint64(uid), 10))
	}

	span.SetTag("result.count", len(page.MessageIDs))
	return page, nil
}

// pageAfter returns the next page of UIDs strictly greater than the token
// UID, ascending. Messages that fail to archive fall behind the token and
// are picked up by the next scheduled run instead of looping this one.
func pageAfter(uids []uint32, pageToken string, pageSize int) ([]uint32, string, error) {
	var after uint64
	if pageToken != "" {
		var err error
		after, err = strconv.ParseUint(pageToken, 10, 32)
		if err != nil {
			return nil, "", errors.Errorf("invalid page token %q", pageToken)
		}
	}

	remaining := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uint64(uid) > after {
			remaining = append(remaining, uid)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })

	if len(remaining) == 0 {
		return nil, "", nil
	}
	if len(remaining) > pageSize {
		page := remaining[:pageSize]
		return page, strconv.FormatUint(uint64(page[len(page)-1]), 10), nil
	}
	return remaining, "", nil
}

func (p *imapProvider) GetMessage(ctx context.Context, messageID string) (*interfaces.MailMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapProvider.GetMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("message.id", messageID)

	envelope, err := p.fetchEnvelope(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	message := &interfaces.MailMessage{
		ID:      messageID,
		Subject: envelope.GetHeader("Subject"),
		From:    envelope.GetHeader("From"),
	}
	for i, part := range envelope.Attachments {
		message.Attachments = append(message.Attachments, interfaces.MailAttachment{
			ID:       strconv.Itoa(i),
			Filename: part.FileName,
			MimeType: part.ContentType,
		})
	}
	return message, nil
}

func (p *imapProvider) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapProvider.GetAttachment")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("message.id", messageID)
	span.SetTag("attachment.id", attachmentID)

	envelope, err := p.fetchEnvelope(ctx, messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	idx, err := strconv.Atoi(attachmentID)
	if err != nil || idx < 0 || idx >= len(envelope.Attachments) {
		return nil, errors.Errorf("attachment %s not found on message %s", attachmentID, messageID)
	}
	return envelope.Attachments[idx].Content, nil
}

// Archive copies the message to the processed folder and expunges it from
// the inbox, removing it from future inbox-scoped searches.
func (p *imapProvider) Archive(ctx context.Context, messageID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapProvider.Archive")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("message.id", messageID)

	c, err := p.getConnectedClient(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	uid, err := parseUID(messageID)
	if err != nil {
		return err
	}

	if _, err := c.Select(p.account.InboxFolder, false); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "select folder %s", p.account.InboxFolder)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	p.ensureProcessedFolder(c)

	if err := c.UidCopy(seqSet, p.account.ProcessedFolder); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "copy message to %s", p.account.ProcessedFolder)
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := c.UidStore(seqSet, item, flags, nil); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "flag message deleted")
	}

	if err := c.Expunge(nil); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "expunge inbox")
	}

	return nil
}

// Close logs out the underlying connection.
func (p *imapProvider) Close() {
	p.clientMutex.Lock()
	defer p.clientMutex.Unlock()
	if p.client != nil {
		_ = p.client.Logout()
		p.client = nil
	}
}

func (p *imapProvider) fetchEnvelope(ctx context.Context, messageID string) (*enmime.Envelope, error) {
	p.cacheMutex.Lock()
	if p.cachedUID == messageID && p.cachedEnvelope != nil {
		envelope := p.cachedEnvelope
		p.cacheMutex.Unlock()
		return envelope, nil
	}
	p.cacheMutex.Unlock()

	c, err := p.getConnectedClient(ctx)
	if err != nil {
		return nil, err
	}

	uid, err := parseUID(messageID)
	if err != nil {
		return nil, err
	}

	if _, err := c.Select(p.account.InboxFolder, true); err != nil {
		return nil, errors.Wrapf(err, "select folder %s", p.account.InboxFolder)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	if err := c.UidFetch(seqSet, items, messages); err != nil {
		return nil, errors.Wrapf(err, "fetch message %s", messageID)
	}

	msg, ok := <-messages
	if !ok || msg == nil {
		return nil, errors.Errorf("message %s not found", messageID)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, errors.Errorf("message %s has no body", messageID)
	}

	envelope, err := enmime.ReadEnvelope(body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse message %s", messageID)
	}

	p.cacheMutex.Lock()
	p.cachedUID = messageID
	p.cachedEnvelope = envelope
	p.cacheMutex.Unlock()

	return envelope, nil
}

func (p *imapProvider) getConnectedClient(ctx context.Context) (*client.Client, error) {
	p.clientMutex.Lock()
	defer p.clientMutex.Unlock()

	if p.client != nil {
		// cheap liveness probe
		if err := p.client.Noop(); err == nil {
			return p.client, nil
		}
		_ = p.client.Logout()
		p.client = nil
	}

	span, _ := opentracing.StartSpanFromContext(ctx, "imapProvider.connect")
	defer span.Finish()
	span.SetTag("server", p.account.ImapServer)
	span.SetTag("port", p.account.ImapPort)

	serverAddr := fmt.Sprintf("%s:%d", p.account.ImapServer, p.account.ImapPort)
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tlsConfig := &tls.Config{
		ServerName: p.account.ImapServer,
	}

	c, err := client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "connect to %s", serverAddr)
	}

	c.Timeout = 30 * time.Second
	if err := c.Login(p.account.ImapUsername, p.account.ImapPassword); err != nil {
		_ = c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "login as %s", p.account.ImapUsername)
	}
	c.Timeout = 0

	p.client = c
	return c, nil
}

// ensureProcessedFolder creates the archive folder if missing; an
// already-exists response is fine and the copy below surfaces real failures.
func (p *imapProvider) ensureProcessedFolder(c *client.Client) {
	_ = c.Create(p.account.ProcessedFolder)
}

func parseUID(messageID string) (uint32, error) {
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid message id %q", messageID)
	}
	return uint32(uid), nil
}

// imapProviderFactory builds a connected provider per account.
type imapProviderFactory struct {
	postgres *repository.Repositories
}

func NewIMAPProviderFactory(postgres *repository.Repositories) interfaces.MailboxProviderFactory {
	return &imapProviderFactory{postgres: postgres}
}

func (f *imapProviderFactory) ProviderFor(ctx context.Context, accountID string) (interfaces.MailboxProvider, error) {
	account, err := f.postgres.MailboxAccountRepository.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, cerrors.ErrAccountNotFound
	}
	return newIMAPProvider(account), nil
}

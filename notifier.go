package admission

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/url"
	"sync"

	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"
)

const (
	emailVerify          = "verifyemail"
	emailUnknownOrg      = "unknown"
	emailNewRegistration = "newregistrationemail"
	emailAccountApproved = "approvedaccountemail"
)

// Email is a rendered message.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Notifier renders the admission emails and hands them to a Dispatcher.
// Templates are keyed "<lang>_<name>_{title,html,text}" and fall back to
// the default language.
type Notifier struct {
	dispatcher  Dispatcher
	templates   map[string]string
	baseURL     string
	loginURL    string
	verifyURL   string
	opsMailbox  string
	defaultLang string

	mu       sync.Mutex
	compiled map[string]*pongo2.Template
}

// NewNotifier loads the embedded templates.
func NewNotifier(dispatcher Dispatcher, cfg *Config) (*Notifier, error) {
	raw, err := fs.ReadFile(GetEmailTemplatesFS(), "data/email/templates.json")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read email templates")
	}
	return NewNotifierFromJSON(dispatcher, cfg, raw)
}

// NewNotifierFromJSON loads templates from a JSON object of strings.
func NewNotifierFromJSON(dispatcher Dispatcher, cfg *Config, raw []byte) (*Notifier, error) {
	templates := map[string]string{}
	if err := json.Unmarshal(raw, &templates); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to decode email templates")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	lang := cfg.DefaultLang
	if lang == "" {
		lang = "en"
	}

	return &Notifier{
		dispatcher:  dispatcher,
		templates:   templates,
		baseURL:     cfg.BaseURL,
		loginURL:    cfg.LoginURL,
		verifyURL:   cfg.VerifyURL,
		opsMailbox:  cfg.OpsMailbox,
		defaultLang: lang,
		compiled:    map[string]*pongo2.Template{},
	}, nil
}

// VerificationLink is the action URL of a verification email.
func (n *Notifier) VerificationLink(token EmailApprovalToken, bgc string) string {
	return ActionURL(n.baseURL, n.verifyURL, url.Values{
		"e":   {token.E},
		"t":   {token.T},
		"bgc": {bgc},
	})
}

// LoginLink is the action URL pointing at the login page.
func (n *Notifier) LoginLink(bgc string, manage bool) string {
	query := url.Values{"bgc": {bgc}}
	if manage {
		query.Set("manage", "true")
	}
	return ActionURL(n.baseURL, n.loginURL, query)
}

// SendVerification emails the approval link to the registered identity.
func (n *Notifier) SendVerification(ctx context.Context, rec *UserRecord, token EmailApprovalToken, lang, bgc string) (bool, error) {
	actionURL := n.VerificationLink(token, bgc)
	msg, err := n.Render(emailVerify, lang, rec.ID, pongo2.Context{
		"name":       rec.Name,
		"org":        rec.Org,
		"action_url": actionURL,
	})
	if err != nil {
		return false, err
	}
	return n.deliver(ctx, msg)
}

// SendUnknownOrgNotice tells the operations mailbox about a new org
// registered from an unknown domain.
func (n *Notifier) SendUnknownOrgNotice(ctx context.Context, rec *UserRecord, lang, bgc string) (bool, error) {
	msg, err := n.Render(emailUnknownOrg, lang, n.opsMailbox, pongo2.Context{
		"id":         rec.ID,
		"name":       rec.Name,
		"org":        rec.Org,
		"action_url": n.LoginLink(bgc, true),
	})
	if err != nil {
		return false, err
	}
	return n.deliver(ctx, msg)
}

// SendNewRegistration asks an org admin to approve rec.
func (n *Notifier) SendNewRegistration(ctx context.Context, admin, rec *UserRecord, lang, bgc string) (bool, error) {
	msg, err := n.Render(emailNewRegistration, lang, admin.ID, pongo2.Context{
		"adminname":  admin.Name,
		"id":         rec.ID,
		"name":       rec.Name,
		"org":        rec.Org,
		"action_url": n.LoginLink(bgc, false),
	})
	if err != nil {
		return false, err
	}
	return n.deliver(ctx, msg)
}

// SendAccountApproved tells a user that an admin approved the account.
func (n *Notifier) SendAccountApproved(ctx context.Context, id, name, org, lang, bgc string) (bool, error) {
	msg, err := n.Render(emailAccountApproved, lang, id, pongo2.Context{
		"id":         id,
		"name":       name,
		"org":        org,
		"action_url": n.LoginLink(bgc, false),
	})
	if err != nil {
		return false, err
	}
	return n.deliver(ctx, msg)
}

// Render builds the email name in lang for to.
func (n *Notifier) Render(name, lang, to string, data pongo2.Context) (*Email, error) {
	actionURL, _ := data["action_url"].(string)
	button := pongo2.Context{"action_url": actionURL}

	pre, err := n.execute("button_code_pre", button)
	if err != nil {
		return nil, err
	}
	post, err := n.execute("button_code_post", button)
	if err != nil {
		return nil, err
	}

	ctx := pongo2.Context{"button_code_pre": pre, "button_code_post": post}
	ctx.Update(data)

	msg := &Email{To: to}
	if msg.Subject, err = n.execute(n.key(lang, name, "title"), ctx); err != nil {
		return nil, err
	}
	if msg.HTML, err = n.execute(n.key(lang, name, "html"), ctx); err != nil {
		return nil, err
	}
	if msg.Text, err = n.execute(n.key(lang, name, "text"), ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

func (n *Notifier) key(lang, name, part string) string {
	if lang == "" {
		lang = n.defaultLang
	}
	k := lang + "_" + name + "_" + part
	if _, ok := n.templates[k]; ok {
		return k
	}
	return n.defaultLang + "_" + name + "_" + part
}

func (n *Notifier) execute(key string, data pongo2.Context) (string, error) {
	tpl, err := n.template(key)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(data)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render email template").
			WithMetadata(map[string]any{"template": key})
	}
	return out, nil
}

func (n *Notifier) template(key string) (*pongo2.Template, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if tpl, ok := n.compiled[key]; ok {
		return tpl, nil
	}

	src, ok := n.templates[key]
	if !ok {
		return nil, goerrors.New("email template not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"template": key})
	}

	tpl, err := pongo2.FromString(src)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compile email template").
			WithMetadata(map[string]any{"template": key})
	}
	n.compiled[key] = tpl
	return tpl, nil
}

func (n *Notifier) deliver(ctx context.Context, msg *Email) (bool, error) {
	if n.dispatcher == nil {
		return false, goerrors.New("no email dispatcher configured", goerrors.CategoryInternal)
	}
	return n.dispatcher.Send(ctx, msg.To, msg.Subject, msg.HTML, msg.Text)
}

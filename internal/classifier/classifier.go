// Package classifier sorts incoming mail into categories with a fixed,
// ordered list of deterministic rules. The first rule that matches decides
// the category; when nothing matches the message is normal.
//
// Rule order:
//  1. important sender (substring of the sender)
//  2. important keyword in the subject
//  3. important keyword in the first 500 characters of the body
//  4. urgency patterns on subject and body prefix
//  5. normal keyword in the subject or the first 200 characters of the body
//  6. marketing patterns on subject and body prefix
//  7. sender domain, important domains before normal domains
//
// All matching is case-insensitive.
package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/models"
)

const (
	importantBodyPrefix = 500
	normalBodyPrefix    = 200
)

// Rule identifies which step of the classifier produced a result
type Rule string

const (
	RuleImportantSender  Rule = "important_sender"
	RuleImportantSubject Rule = "important_keyword_subject"
	RuleImportantBody    Rule = "important_keyword_body"
	RuleUrgencyPattern   Rule = "urgency_pattern"
	RuleNormalKeyword    Rule = "normal_keyword"
	RuleNormalPattern    Rule = "normal_pattern"
	RuleImportantDomain  Rule = "important_domain"
	RuleNormalDomain     Rule = "normal_domain"
	RuleDefault          Rule = "default"
	RuleFault            Rule = "fault"
)

// Config holds the configurable term lists
type Config struct {
	ImportantKeywords []string
	ImportantSenders  []string
	NormalKeywords    []string
	ImportantDomains  []string
	NormalDomains     []string
}

// Result describes a classification and the rule and term that decided it
type Result struct {
	Category models.Category `json:"category"`
	Rule     Rule            `json:"rule"`
	Match    string          `json:"match,omitempty"`
}

// RuleSet is the read-only view of the active rules
type RuleSet struct {
	ImportantKeywords []string `json:"important_keywords"`
	ImportantSenders  []string `json:"important_senders"`
	NormalKeywords    []string `json:"normal_keywords"`
	ImportantDomains  []string `json:"important_domains"`
	NormalDomains     []string `json:"normal_domains"`
	UrgencyPatterns   []string `json:"urgency_patterns"`
	NormalPatterns    []string `json:"normal_patterns"`
}

var (
	urgencyPatterns = []*regexp.Regexp{
		wordPattern("urgent", "asap", "as soon as possible"),
		wordPattern("deadline", "due date"),
		wordPattern("entretien", "interview"),
		wordPattern("recrutement", "recruitment", "hiring"),
		wordPattern("rh", "hr", "human resources"),
	}

	normalPatterns = []*regexp.Regexp{
		wordPattern("newsletter", "news letter"),
		wordPattern("marketing", "promotion", "promo"),
		wordPattern("publicité", "advertisement", "ads"),
		wordPattern("unsubscribe", "désabonnement"),
		wordPattern("offre", "offer", "deal"),
	}
)

// wordPattern matches any of the alternatives as a whole word. Go's \b only
// knows ASCII word characters, so boundaries are spelled out over Unicode
// letters and digits to keep accented terms whole.
func wordPattern(alternatives ...string) *regexp.Regexp {
	quoted := make([]string, len(alternatives))
	for i, alt := range alternatives {
		quoted[i] = regexp.QuoteMeta(alt)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}_])`)
}

// input is the lower-cased view of a message shared by all rules
type input struct {
	subject       string
	sender        string
	importantBody string
	normalBody    string
}

func newInput(msg models.Message) *input {
	body := strings.ToLower(msg.Body)
	return &input{
		subject:       strings.ToLower(msg.Subject),
		sender:        strings.ToLower(msg.Sender),
		importantBody: prefix(body, importantBodyPrefix),
		normalBody:    prefix(body, normalBodyPrefix),
	}
}

type rule struct {
	name     Rule
	category models.Category
	match    func(in *input) (string, bool, error)
}

// Classifier applies the ordered rules. It is safe for concurrent use.
type Classifier struct {
	cfg   Config
	rules []rule
}

// New creates a classifier. Term lists are trimmed and lower-cased; empty terms are dropped.
func New(cfg Config) *Classifier {
	c := &Classifier{
		cfg: Config{
			ImportantKeywords: clean(cfg.ImportantKeywords),
			ImportantSenders:  clean(cfg.ImportantSenders),
			NormalKeywords:    clean(cfg.NormalKeywords),
			ImportantDomains:  clean(cfg.ImportantDomains),
			NormalDomains:     clean(cfg.NormalDomains),
		},
	}
	c.rules = c.buildRules()
	return c
}

func (c *Classifier) buildRules() []rule {
	return []rule{
		{RuleImportantSender, models.CategoryImportant, func(in *input) (string, bool, error) {
			return containsAny(in.sender, c.cfg.ImportantSenders)
		}},
		{RuleImportantSubject, models.CategoryImportant, func(in *input) (string, bool, error) {
			return containsAny(in.subject, c.cfg.ImportantKeywords)
		}},
		{RuleImportantBody, models.CategoryImportant, func(in *input) (string, bool, error) {
			return containsAny(in.importantBody, c.cfg.ImportantKeywords)
		}},
		{RuleUrgencyPattern, models.CategoryImportant, func(in *input) (string, bool, error) {
			return matchAny(in.subject+" "+in.importantBody, urgencyPatterns)
		}},
		{RuleNormalKeyword, models.CategoryNormal, func(in *input) (string, bool, error) {
			if term, ok, _ := containsAny(in.subject, c.cfg.NormalKeywords); ok {
				return term, true, nil
			}
			return containsAny(in.normalBody, c.cfg.NormalKeywords)
		}},
		{RuleNormalPattern, models.CategoryNormal, func(in *input) (string, bool, error) {
			return matchAny(in.subject+" "+in.normalBody, normalPatterns)
		}},
		{RuleImportantDomain, models.CategoryImportant, func(in *input) (string, bool, error) {
			domain, ok := senderDomain(in.sender)
			if !ok {
				return "", false, nil
			}
			return containsAny(domain, c.cfg.ImportantDomains)
		}},
		{RuleNormalDomain, models.CategoryNormal, func(in *input) (string, bool, error) {
			domain, ok := senderDomain(in.sender)
			if !ok {
				return "", false, nil
			}
			return containsAny(domain, c.cfg.NormalDomains)
		}},
	}
}

// Classify returns the category for msg. It never fails: a fault inside a
// rule resolves to normal.
func (c *Classifier) Classify(msg models.Message) models.Category {
	result, err := c.Evaluate(msg)
	if err != nil {
		logrus.WithField("external_id", msg.ExternalID).Warnf("Classification fault, defaulting to normal: %v", err)
	}
	return result.Category
}

// Evaluate runs the rules in order and reports which one decided. When a
// rule fails, the returned Result is the normal fault result and the error
// describes the failure.
func (c *Classifier) Evaluate(msg models.Message) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Category: models.CategoryNormal, Rule: RuleFault}
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()

	in := newInput(msg)
	for _, r := range c.rules {
		term, ok, ruleErr := r.match(in)
		if ruleErr != nil {
			return Result{Category: models.CategoryNormal, Rule: RuleFault},
				fmt.Errorf("rule %s failed: %w", r.name, ruleErr)
		}
		if ok {
			return Result{Category: r.category, Rule: r.name, Match: term}, nil
		}
	}
	return Result{Category: models.CategoryNormal, Rule: RuleDefault}, nil
}

// Rules returns a copy of the active term lists and fixed patterns
func (c *Classifier) Rules() RuleSet {
	return RuleSet{
		ImportantKeywords: append([]string{}, c.cfg.ImportantKeywords...),
		ImportantSenders:  append([]string{}, c.cfg.ImportantSenders...),
		NormalKeywords:    append([]string{}, c.cfg.NormalKeywords...),
		ImportantDomains:  append([]string{}, c.cfg.ImportantDomains...),
		NormalDomains:     append([]string{}, c.cfg.NormalDomains...),
		UrgencyPatterns:   patternStrings(urgencyPatterns),
		NormalPatterns:    patternStrings(normalPatterns),
	}
}

func containsAny(s string, terms []string) (string, bool, error) {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return term, true, nil
		}
	}
	return "", false, nil
}

func matchAny(s string, patterns []*regexp.Regexp) (string, bool, error) {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return m[1], true, nil
		}
	}
	return "", false, nil
}

// senderDomain extracts the domain from an address or a "Name <addr>" header value
func senderDomain(sender string) (string, bool) {
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return "", false
	}
	domain := strings.TrimSpace(strings.TrimRight(sender[at+1:], "> \t"))
	return domain, domain != ""
}

// prefix returns at most n characters of s without splitting a rune
func prefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func clean(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			out = append(out, term)
		}
	}
	return out
}

func patternStrings(patterns []*regexp.Regexp) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.String()
	}
	return out
}

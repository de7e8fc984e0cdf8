package salesforce

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/salescycle/internal/model"
)

// DateTimeLayout is the format of Salesforce datetime fields.
const DateTimeLayout = "2006-01-02T15:04:05.000-0700"

// AssigneeAttr is the owner attribute filled from Account.Owner.Name.
const AssigneeAttr = "assignee"

// pullConcurrency bounds the number of SOQL queries in flight.
const pullConcurrency = 4

type stageRecord struct {
	ID          string `json:"Id" salesforce:"Id"`
	AccountID   string `json:"Account__c" salesforce:"Account__c"`
	EntityID    string `json:"Installation__c" salesforce:"Installation__c"`
	Type        string `json:"Type__c" salesforce:"Type__c"`
	CreatedDate string `json:"CreatedDate" salesforce:"CreatedDate"`
}

type documentRecord struct {
	ID          string `json:"Id" salesforce:"Id"`
	StageID     string `json:"Stage__c" salesforce:"Stage__c"`
	DocType     string `json:"Document_Type__c" salesforce:"Document_Type__c"`
	Name        string `json:"Name" salesforce:"Name"`
	Status      string `json:"Status__c" salesforce:"Status__c"`
	Attributes  string `json:"Attributes__c" salesforce:"Attributes__c"`
	CreatedDate string `json:"CreatedDate" salesforce:"CreatedDate"`
}

type statusEventRecord struct {
	DocumentID  string `json:"Document__c" salesforce:"Document__c"`
	AccountID   string `json:"Account__c" salesforce:"Account__c"`
	Kind        string `json:"Kind__c" salesforce:"Kind__c"`
	CreatedDate string `json:"CreatedDate" salesforce:"CreatedDate"`
}

type proposalRecord struct {
	Code       string   `json:"Name" salesforce:"Name"`
	Size       *float64 `json:"Size__c" salesforce:"Size__c"`
	Attributes string   `json:"Attributes__c" salesforce:"Attributes__c"`
}

type contractRecord struct {
	ID           string `json:"Id" salesforce:"Id"`
	ProposalCode string `json:"Proposal_Code__c" salesforce:"Proposal_Code__c"`
	AccountID    string `json:"Account__c" salesforce:"Account__c"`
	Active       bool   `json:"Active__c" salesforce:"Active__c"`
}

type historyRecord struct {
	EntityID    string   `json:"Installation__c" salesforce:"Installation__c"`
	ContractID  string   `json:"Contract__c" salesforce:"Contract__c"`
	Size        *float64 `json:"Size__c" salesforce:"Size__c"`
	CreatedDate string   `json:"CreatedDate" salesforce:"CreatedDate"`
}

type visitRecord struct {
	StageID     string `json:"Stage__c" salesforce:"Stage__c"`
	ServiceType string `json:"Service_Type__c" salesforce:"Service_Type__c"`
	Start       string `json:"Start__c" salesforce:"Start__c"`
}

type accountRecord struct {
	ID    string `json:"Id" salesforce:"Id"`
	Name  string `json:"Name" salesforce:"Name"`
	Owner struct {
		Name string `json:"Name" salesforce:"Name"`
	} `json:"Owner" salesforce:"Owner"`
}

// Objects lists the SObjects and fields selected by FetchSnapshot.
var Objects = map[string][]string{
	"Stage__c":                 {"Id", "Account__c", "Installation__c", "Type__c", "CreatedDate"},
	"Stage_Document__c":        {"Id", "Stage__c", "Document_Type__c", "Name", "Status__c", "Attributes__c", "CreatedDate"},
	"Document_Status_Event__c": {"Document__c", "Account__c", "Kind__c", "CreatedDate"},
	"Proposal__c":              {"Name", "Size__c", "Attributes__c"},
	"Contract__c":              {"Id", "Proposal_Code__c", "Account__c", "Active__c"},
	"Installation_History__c":  {"Installation__c", "Contract__c", "Size__c", "CreatedDate"},
	"Visit__c":                 {"Stage__c", "Service_Type__c", "Start__c"},
	"Account":                  {"Id", "Name", "Owner.Name"},
}

// ParseDateTime parses a Salesforce datetime into UTC. RFC 3339 is also accepted.
func ParseDateTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{DateTimeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("sf: unrecognized datetime %q", raw)
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

func buildSOQL(object, where string) string {
	soql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(Objects[object], ", "), object)
	if where != "" {
		soql += " WHERE " + where
	}
	return soql
}

func queryObject[T any](ctx context.Context, c Client, object, where string) ([]T, error) {
	var out []T
	if err := c.Query(ctx, buildSOQL(object, where), &out); err != nil {
		return nil, eris.Wrapf(err, "sf: query %s", object)
	}
	return out, nil
}

// FetchSnapshot pulls every source table. Approval events are restricted to
// approvalKind. Datetimes are normalised to UTC.
func FetchSnapshot(ctx context.Context, c Client, approvalKind string) (*model.Snapshot, error) {
	log := zap.L().With(zap.String("component", "salesforce.snapshot"))
	start := time.Now()

	var (
		stages    []stageRecord
		documents []documentRecord
		events    []statusEventRecord
		proposals []proposalRecord
		contracts []contractRecord
		history   []historyRecord
		visits    []visitRecord
		accounts  []accountRecord
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(pullConcurrency)
	g.Go(func() (err error) {
		stages, err = queryObject[stageRecord](gCtx, c, "Stage__c", "")
		return err
	})
	g.Go(func() (err error) {
		documents, err = queryObject[documentRecord](gCtx, c, "Stage_Document__c", "")
		return err
	})
	g.Go(func() (err error) {
		where := fmt.Sprintf("Kind__c = '%s'", escapeSoql(approvalKind))
		events, err = queryObject[statusEventRecord](gCtx, c, "Document_Status_Event__c", where)
		return err
	})
	g.Go(func() (err error) {
		proposals, err = queryObject[proposalRecord](gCtx, c, "Proposal__c", "")
		return err
	})
	g.Go(func() (err error) {
		contracts, err = queryObject[contractRecord](gCtx, c, "Contract__c", "")
		return err
	})
	g.Go(func() (err error) {
		history, err = queryObject[historyRecord](gCtx, c, "Installation_History__c", "")
		return err
	})
	g.Go(func() (err error) {
		visits, err = queryObject[visitRecord](gCtx, c, "Visit__c", "")
		return err
	})
	g.Go(func() (err error) {
		accounts, err = queryObject[accountRecord](gCtx, c, "Account", "")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &model.Snapshot{TakenAt: time.Now().UTC()}

	for _, r := range stages {
		created, err := ParseDateTime(r.CreatedDate)
		if err != nil {
			return nil, eris.Wrapf(err, "sf: stage %s", r.ID)
		}
		snap.Stages = append(snap.Stages, model.StageInstance{
			ID: r.ID, OwnerID: r.AccountID, EntityID: r.EntityID, Type: r.Type, CreatedAt: created,
		})
	}
	for _, r := range documents {
		created, err := ParseDateTime(r.CreatedDate)
		if err != nil {
			return nil, eris.Wrapf(err, "sf: document %s", r.ID)
		}
		attrs, err := decodeAttributes(r.Attributes)
		if err != nil {
			return nil, eris.Wrapf(err, "sf: document %s attributes", r.ID)
		}
		snap.Documents = append(snap.Documents, model.Document{
			ID: r.ID, StageInstanceID: r.StageID, DocType: r.DocType, Name: r.Name,
			Status: r.Status, Attributes: attrs, CreatedAt: created,
		})
	}
	for _, r := range events {
		created, err := ParseDateTime(r.CreatedDate)
		if err != nil {
			return nil, eris.Wrapf(err, "sf: status event for document %s", r.DocumentID)
		}
		snap.Approvals = append(snap.Approvals, model.ApprovalEvent{
			DocID: r.DocumentID, OwnerID: r.AccountID, Kind: r.Kind, CreatedAt: created,
		})
	}
	for _, r := range proposals {
		attrs, err := decodeAttributes(r.Attributes)
		if err != nil {
			return nil, eris.Wrapf(err, "sf: proposal %s attributes", r.Code)
		}
		snap.References = append(snap.References, model.ReferenceRecord{
			ReferenceID: strings.TrimSpace(r.Code), Size: formatNumber(r.Size), Attributes: attrs,
		})
	}
	for _, r := range contracts {
		snap.Contracts = append(snap.Contracts, model.Contract{
			ID: r.ID, ReferenceID: strings.TrimSpace(r.ProposalCode), OwnerID: r.AccountID, Active: r.Active,
		})
	}
	for _, r := range history {
		created, err := ParseDateTime(r.CreatedDate)
		if err != nil {
			return nil, eris.Wrapf(err, "sf: installation history for %s", r.EntityID)
		}
		snap.PriorStates = append(snap.PriorStates, model.PriorState{
			EntityID: r.EntityID, ContractID: r.ContractID, CreatedAt: created, Size: formatNumber(r.Size),
		})
	}
	skipped := 0
	for _, r := range visits {
		if strings.TrimSpace(r.Start) == "" {
			skipped++
			continue
		}
		st, err := ParseDateTime(r.Start)
		if err != nil {
			return nil, eris.Wrapf(err, "sf: visit for stage %s", r.StageID)
		}
		snap.Visits = append(snap.Visits, model.VisitRecord{
			OwningInstanceID: r.StageID, ServiceTag: r.ServiceType, StartTime: st,
		})
	}
	if skipped > 0 {
		log.Debug("sf: skipped unscheduled visits", zap.Int("count", skipped))
	}
	for _, r := range accounts {
		attrs := map[string]string{"name": r.Name}
		if r.Owner.Name != "" {
			attrs[AssigneeAttr] = r.Owner.Name
		}
		snap.Owners = append(snap.Owners, model.OwnerContainer{OwnerID: r.ID, Attributes: attrs})
	}

	log.Info("sf: snapshot pulled",
		zap.Int("stages", len(snap.Stages)),
		zap.Int("documents", len(snap.Documents)),
		zap.Int("approvals", len(snap.Approvals)),
		zap.Int("references", len(snap.References)),
		zap.Int("contracts", len(snap.Contracts)),
		zap.Int("prior_states", len(snap.PriorStates)),
		zap.Int("visits", len(snap.Visits)),
		zap.Int("owners", len(snap.Owners)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return snap, nil
}

// VerifySchema checks that every field FetchSnapshot selects exists in the
// org. Relationship fields (Owner.Name) are not checked.
func VerifySchema(ctx context.Context, c Client) error {
	names := make([]string, 0, len(Objects))
	for name := range Objects {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		desc, err := c.DescribeSObject(ctx, name)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(desc.Fields))
		for _, f := range desc.Fields {
			have[f.Name] = true
		}
		for _, f := range Objects[name] {
			if strings.Contains(f, ".") || have[f] {
				continue
			}
			missing = append(missing, name+"."+f)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("sf: missing fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/intake"
	"artiklo/api/internal/store"
)

func structuredResult() analysis.Result {
	return analysis.Result{
		DocumentType:      "İhtarname",
		Summary:           "Kira artışı bildirimi.",
		SimplifiedText:    "Ev sahibiniz kirayı artırıyor.",
		ExtractedEntities: []analysis.Entity{{Label: "Tutar", Value: "15000"}},
		ActionableSteps:   []analysis.ActionableStep{{Description: "İtiraz dilekçesi yazın.", Kind: analysis.StepCreateDocument, TargetDocument: "İtiraz Dilekçesi"}},
	}
}

func TestDebitOnlyAfterSuccessfulInsert(t *testing.T) {
	documents := &fakeDocuments{insertFn: func(store.StoredDocument) error { return errors.New("db down") }}
	coordinator := NewCoordinator(documents, nil, nil)

	archival := coordinator.Persist(context.Background(), member, textPayload("metin"), structuredResult(), analysis.SchemaStructured)

	if archival.Archived || archival.Debited || archival.DocumentID != "" {
		t.Fatalf("unexpected archival: %+v", archival)
	}
	if len(documents.debited) != 0 {
		t.Fatal("debit must not run after a failed insert")
	}
	if !hasNotice(archival.Notices, string(KindPersistence)) {
		t.Fatalf("expected persistence notice, got %+v", archival.Notices)
	}
}

func TestCreditFailureKeepsDocument(t *testing.T) {
	documents := &fakeDocuments{debitFn: func(string) error { return store.ErrNoCredits }}
	coordinator := NewCoordinator(documents, nil, nil)

	archival := coordinator.Persist(context.Background(), member, textPayload("metin"), structuredResult(), analysis.SchemaStructured)

	if !archival.Archived || archival.Debited {
		t.Fatalf("unexpected archival: %+v", archival)
	}
	if len(documents.inserted) != 1 || len(documents.debited) != 1 {
		t.Fatalf("expected one insert and one debit attempt, got %d/%d", len(documents.inserted), len(documents.debited))
	}
	var credit Notice
	for _, notice := range archival.Notices {
		if notice.Code == string(KindCredit) {
			credit = notice
		}
	}
	if credit.Severity != SeverityWarning {
		t.Fatalf("credit failure should be a warning notice, got %+v", archival.Notices)
	}
}

func TestAnonymousResultsAreNotArchived(t *testing.T) {
	documents := &fakeDocuments{}
	archival := NewCoordinator(documents, nil, nil).Persist(context.Background(), anonymous, textPayload("metin"), structuredResult(), analysis.SchemaStructured)

	if archival.Archived || len(documents.inserted) != 0 || len(documents.debited) != 0 {
		t.Fatalf("anonymous submissions must not be stored: %+v", archival)
	}
	if !hasNotice(archival.Notices, NoticeNotArchived) {
		t.Fatalf("expected NOT_ARCHIVED notice, got %+v", archival.Notices)
	}
}

func TestStructuredActionPlanEncoding(t *testing.T) {
	documents := &fakeDocuments{}
	NewCoordinator(documents, nil, nil).Persist(context.Background(), member, textPayload("metin"), structuredResult(), analysis.SchemaStructured)

	doc := documents.inserted[0]
	if doc.ActionPlan == nil {
		t.Fatal("structured results store an action plan")
	}
	var plan map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*doc.ActionPlan), &plan); err != nil {
		t.Fatalf("action plan is not JSON: %v", err)
	}
	if string(plan["__structured"]) != "true" || string(plan["legacy_action_plan"]) != "null" {
		t.Fatalf("unexpected plan markers: %s", *doc.ActionPlan)
	}
	for _, key := range []string{"actionable_steps", "extracted_entities", "risk_items"} {
		if _, ok := plan[key]; !ok {
			t.Fatalf("plan missing %s: %s", key, *doc.ActionPlan)
		}
	}
	if string(plan["risk_items"]) != "[]" {
		t.Fatalf("risk items should encode as an empty list, got %s", plan["risk_items"])
	}
	if doc.Summary == nil || *doc.Summary != "Kira artışı bildirimi." || doc.OwnerID != "usr_1" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if !strings.HasPrefix(doc.ID, "doc_") {
		t.Fatalf("document id = %q", doc.ID)
	}
}

func TestLegacyDocumentKeepsFreeTextPlan(t *testing.T) {
	documents := &fakeDocuments{}
	result := analysis.Result{DocumentType: analysis.UnknownLabel, ActionPlan: "1. Avukata danışın."}
	NewCoordinator(documents, nil, nil).Persist(context.Background(), member, textPayload("metin"), result, analysis.SchemaLegacy)

	doc := documents.inserted[0]
	if doc.ActionPlan == nil || *doc.ActionPlan != "1. Avukata danışın." {
		t.Fatalf("legacy plan should be stored verbatim: %v", doc.ActionPlan)
	}
	if doc.SimplifiedText != emptySimplifiedText {
		t.Fatalf("simplified text = %q", doc.SimplifiedText)
	}
	if doc.Summary != nil || doc.Entities != nil {
		t.Fatalf("empty fields should stay null: %+v", doc)
	}
}

func TestOriginalTextAnnotatesFileNames(t *testing.T) {
	documents := &fakeDocuments{}
	browser := intake.NewBrowserSource()
	browser.Add("kira.pdf", "application/pdf", []byte("%PDF-1.4"))
	payload := intake.Aggregate("Lütfen inceleyin", "", browser)

	NewCoordinator(documents, nil, nil).Persist(context.Background(), member, payload, structuredResult(), analysis.SchemaStructured)

	if got := documents.inserted[0].OriginalText; got != "[Files: kira.pdf] Lütfen inceleyin" {
		t.Fatalf("original text = %q", got)
	}
}

func TestAttachmentsAreStoredAndFailuresWarn(t *testing.T) {
	documents := &fakeDocuments{}
	attachments := &fakeAttachments{putFn: func(name string) error {
		if name == "b.png" {
			return errors.New("bucket unavailable")
		}
		return nil
	}}
	browser := intake.NewBrowserSource()
	browser.Add("a.pdf", "application/pdf", []byte("%PDF"))
	browser.Add("b.png", "image/png", []byte("PNG"))

	archival := NewCoordinator(documents, attachments, nil).Persist(context.Background(), member, intake.Aggregate("", "", browser), structuredResult(), analysis.SchemaStructured)

	if !archival.Archived {
		t.Fatal("attachment failures must not block archiving")
	}
	if !hasNotice(archival.Notices, NoticeAttachmentWarning) {
		t.Fatalf("expected attachment warning, got %+v", archival.Notices)
	}
	stored := documents.inserted[0].Attachments
	if len(stored) != 1 || stored[0].Name != "a.pdf" {
		t.Fatalf("unexpected attachments: %+v", stored)
	}
}

func TestOrphanedAttachmentsRemovedWhenInsertFails(t *testing.T) {
	documents := &fakeDocuments{insertFn: func(store.StoredDocument) error { return errors.New("db down") }}
	attachments := &fakeAttachments{}
	browser := intake.NewBrowserSource()
	browser.Add("a.pdf", "application/pdf", []byte("%PDF"))

	NewCoordinator(documents, attachments, nil).Persist(context.Background(), member, intake.Aggregate("", "", browser), structuredResult(), analysis.SchemaStructured)

	if len(attachments.removed) != 1 || attachments.removed[0] != attachments.put[0] {
		t.Fatalf("expected uploaded attachment to be removed, put=%v removed=%v", attachments.put, attachments.removed)
	}
}

func TestFailedInsertKeepsAttachmentsOfEarlierDocument(t *testing.T) {
	documents := &fakeDocuments{}
	attachments := &fakeAttachments{}
	coordinator := NewCoordinator(documents, attachments, nil)
	submit := func() Archival {
		browser := intake.NewBrowserSource()
		browser.Add("kira.pdf", "application/pdf", []byte("%PDF same contract"))
		return coordinator.Persist(context.Background(), member, intake.Aggregate("", "", browser), structuredResult(), analysis.SchemaStructured)
	}

	first := submit()
	if !first.Archived {
		t.Fatalf("first submission not archived: %+v", first)
	}
	firstKey := documents.inserted[0].Attachments[0].Key

	documents.insertFn = func(store.StoredDocument) error { return errors.New("db down") }
	if second := submit(); second.Archived {
		t.Fatal("second submission should have failed to archive")
	}

	if len(attachments.put) != 2 || attachments.put[0] == attachments.put[1] {
		t.Fatalf("identical files of two documents must get distinct keys: %v", attachments.put)
	}
	if !attachments.objects[firstKey] {
		t.Fatalf("attachment %s of the archived document was removed", firstKey)
	}
	if len(attachments.removed) != 1 || attachments.removed[0] != attachments.put[1] {
		t.Fatalf("only the failed document's upload should be removed: %v", attachments.removed)
	}
}

func TestPersistenceFailureStillShowsResult(t *testing.T) {
	h := newHarness(respond(structuredBody))
	h.documents.insertFn = func(store.StoredDocument) error { return errors.New("db down") }

	outcome := h.pipeline.Submit(context.Background(), h.view, Submission{Identity: member, Session: "tab-1", Payload: textPayload("metin")})

	succeeded, ok := outcome.(Succeeded)
	if !ok {
		t.Fatalf("persistence failure must not hide the result, got %#v", outcome)
	}
	if succeeded.DocumentID != "" || !hasNotice(succeeded.Notices, string(KindPersistence)) {
		t.Fatalf("expected persistence notice, got %+v", succeeded)
	}
	if len(h.documents.debited) != 0 {
		t.Fatal("no debit after failed insert")
	}
	if h.view.Snapshot(false).State != StateResult {
		t.Fatal("result should still be shown")
	}
}

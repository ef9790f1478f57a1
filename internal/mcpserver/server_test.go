package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"gorm.io/datatypes"

	"github.com/starford/councilhub/internal/listing"
	"github.com/starford/councilhub/internal/models"
	"github.com/starford/councilhub/internal/testutil"
	"github.com/starford/councilhub/internal/treeview"
)

func testServer(t *testing.T) (*Server, *models.Meeting) {
	t.Helper()
	db := testutil.TestDB(t)
	gdb := db.Gorm()

	visible := &models.Meeting{Kind: models.KindRecord, Title: "第一次定期大會", Session: 12, IsVisible: true}
	hidden := &models.Meeting{Kind: models.KindRecord, Title: "草稿", Session: 12}
	for _, m := range []*models.Meeting{visible, hidden} {
		m.Attendance = datatypes.JSON(`{}`)
		m.Present = datatypes.JSON(`{}`)
		m.Version = 1
		if err := gdb.Create(m).Error; err != nil {
			t.Fatal(err)
		}
	}
	if err := gdb.Create(&models.Regulation{Title: "議事規則", Category: "綜合法規篇", IsVisible: true, Version: 1}).Error; err != nil {
		t.Fatal(err)
	}

	blobs := testutil.NewMemBlobs()
	return New(listing.New(gdb), treeview.New(gdb, blobs)), visible
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_meetings":
		result, err = srv.listMeetings(ctx, req)
	case "get_meeting":
		result, err = srv.getMeeting(ctx, req)
	case "list_regulations":
		result, err = srv.listRegulations(ctx, req)
	case "get_regulation":
		result, err = srv.getRegulation(ctx, req)
	case "get_content_contract":
		result, err = srv.getContentContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListMeetings(t *testing.T) {
	srv, _ := testServer(t)

	var all listing.MeetingListing
	r := callTool(t, srv, "list_meetings", map[string]interface{}{"kind": "minutes"})
	if err := json.Unmarshal([]byte(resultText(r)), &all); err != nil {
		t.Fatalf("decode: %v (%s)", err, resultText(r))
	}
	if len(all.Items) != 2 {
		t.Errorf("items = %d, want 2", len(all.Items))
	}

	var public listing.MeetingListing
	r = callTool(t, srv, "list_meetings", map[string]interface{}{"kind": "record", "visible_only": true})
	_ = json.Unmarshal([]byte(resultText(r)), &public)
	if len(public.Items) != 1 || public.Items[0].Title != "第一次定期大會" {
		t.Errorf("visible items = %+v", public.Items)
	}

	var notifications listing.MeetingListing
	r = callTool(t, srv, "list_meetings", map[string]interface{}{"kind": "notifi"})
	_ = json.Unmarshal([]byte(resultText(r)), &notifications)
	if len(notifications.Items) != 0 {
		t.Errorf("notifications = %+v", notifications.Items)
	}
}

func TestListMeetingsUnknownKind(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_meetings", map[string]interface{}{"kind": "agenda"})
	if !r.IsError {
		t.Error("expected error for unknown kind")
	}
}

func TestGetMeeting(t *testing.T) {
	srv, m := testServer(t)

	r := callTool(t, srv, "get_meeting", map[string]interface{}{"kind": "minutes", "id": float64(m.ID)})
	if r.IsError {
		t.Fatalf("get_meeting error: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "第一次定期大會") {
		t.Errorf("result = %s", resultText(r))
	}

	r = callTool(t, srv, "get_meeting", map[string]interface{}{"kind": "notifi", "id": float64(m.ID)})
	if !r.IsError || resultText(r) != "not found" {
		t.Errorf("wrong kind result = %q", resultText(r))
	}

	r = callTool(t, srv, "get_meeting", map[string]interface{}{"kind": "minutes", "id": 1.5})
	if !r.IsError {
		t.Error("expected error for fractional id")
	}
}

func TestRegulations(t *testing.T) {
	srv, _ := testServer(t)

	var lst listing.RegulationListing
	r := callTool(t, srv, "list_regulations", map[string]interface{}{})
	if err := json.Unmarshal([]byte(resultText(r)), &lst); err != nil {
		t.Fatal(err)
	}
	if len(lst.Regulations) != 1 {
		t.Fatalf("regulations = %+v", lst.Regulations)
	}

	r = callTool(t, srv, "get_regulation", map[string]interface{}{"id": float64(lst.Regulations[0].ID)})
	if !strings.Contains(resultText(r), "議事規則") {
		t.Errorf("result = %s", resultText(r))
	}

	r = callTool(t, srv, "get_regulation", map[string]interface{}{"id": float64(99)})
	if !r.IsError {
		t.Error("expected error for missing regulation")
	}
}

func TestContentContract(t *testing.T) {
	srv, _ := testServer(t)
	text := resultText(callTool(t, srv, "get_content_contract", nil))
	if !strings.Contains(text, "file_dict") || !strings.Contains(text, "sort_index") {
		t.Errorf("contract is missing field names")
	}

	contents, err := srv.readContentFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != ContentFormatURI {
		t.Errorf("resource contents = %+v", contents[0])
	}
}

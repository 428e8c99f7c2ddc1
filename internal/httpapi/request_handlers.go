package httpapi

import (
	"net/http"
	"strings"

	"crewarchive.org/internal/audit"
	"crewarchive.org/internal/policy"
	"crewarchive.org/internal/requests"
)

type createRequestBody struct {
	Type         string `json:"type"`
	TargetUserID string `json:"target_user_id"`
	Message      string `json:"message"`

	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Role         string `json:"role"`

	RequestedLevel *int `json:"requested_level"`

	InstagramHandle   string `json:"instagram_handle"`
	TagCount          int    `json:"tag_count"`
	WipeRelationships bool   `json:"wipe_relationships"`
}

// payload rebuilds the tagged union from the flat wire shape.
func (b createRequestBody) payload() (requests.Payload, bool) {
	switch requests.Type(strings.ToUpper(strings.TrimSpace(b.Type))) {
	case requests.TypeTagging:
		return requests.TaggingPayload{
			ResourceType: requests.ResourceType(b.ResourceType),
			ResourceID:   b.ResourceID,
			Role:         b.Role,
		}, true
	case requests.TypeTeamMember:
		return requests.TeamMemberPayload{
			ResourceType: requests.ResourceType(b.ResourceType),
			ResourceID:   b.ResourceID,
		}, true
	case requests.TypeAuthLevelChange:
		if b.RequestedLevel == nil {
			return nil, false
		}
		return requests.AuthLevelChangePayload{RequestedLevel: policy.Level(*b.RequestedLevel)}, true
	case requests.TypeGlobalAccess:
		return requests.GlobalAccessPayload{}, true
	case requests.TypeAccountClaim:
		return requests.AccountClaimPayload{
			InstagramHandle:   b.InstagramHandle,
			TagCount:          b.TagCount,
			WipeRelationships: b.WipeRelationships,
		}, true
	default:
		return nil, false
	}
}

func (a *API) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var body createRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	payload, ok := body.payload()
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown or incomplete request type")
		return
	}

	out, err := a.engine.CreateRequest(r.Context(), actor, requests.CreateInput{
		TargetUserID: body.TargetUserID,
		Message:      body.Message,
		Payload:      payload,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	switch {
	case out.Applied:
		_ = audit.LogEvent(r.Context(), "request.applied_directly", map[string]any{"type": body.Type})
		writeJSON(w, http.StatusOK, out)
	case out.AlreadyPending:
		writeJSON(w, http.StatusOK, out)
	default:
		_ = audit.LogEvent(r.Context(), "request.created", map[string]any{
			"type":       string(out.Request.Type),
			"request_id": out.Request.ID,
		})
		a.publish(*out.Request, actor.UserID)
		writeJSON(w, http.StatusCreated, out)
	}
}

func (a *API) handleListRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var (
		list []requests.Request
		err  error
	)
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "mine":
		list, err = a.engine.ListMine(r.Context(), actor)
	case "awaiting":
		list, err = a.engine.ListAwaiting(r.Context(), actor)
	default:
		writeError(w, http.StatusBadRequest, "unknown scope")
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []requests.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (a *API) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	req, err := a.engine.GetRequest(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handleApprovers(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	req, err := a.engine.GetRequest(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	approvers, err := a.engine.ResolveApprovers(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if approvers == nil {
		approvers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvers": approvers})
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	req, err := a.engine.Approve(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.approved", map[string]any{
		"request_id": req.ID,
		"type":       string(req.Type),
	})
	a.publish(req, actor.UserID)
	writeJSON(w, http.StatusOK, req)
}

type denyBody struct {
	Message string `json:"message"`
}

func (a *API) handleDeny(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var body denyBody
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	req, err := a.engine.Deny(r.Context(), r.PathValue("id"), actor, body.Message)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.denied", map[string]any{
		"request_id": req.ID,
		"type":       string(req.Type),
	})
	a.publish(req, actor.UserID)
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	req, err := a.engine.Cancel(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "request.cancelled", map[string]any{
		"request_id": req.ID,
		"type":       string(req.Type),
	})
	a.publish(req, actor.UserID)
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	list, err := a.engine.Notifications(r.Context(), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if list == nil {
		list = []requests.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (a *API) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := a.engine.MarkNotificationRead(r.Context(), r.PathValue("id"), actor); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"neighbourhood-chat/internal/services"
	"neighbourhood-chat/internal/telemetry"
)

const auditTargetGroup = "group"

// GroupHandler manages group-related endpoints.
type GroupHandler struct {
	groups *services.GroupService
	audit  *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler. audit may be nil.
func NewGroupHandler(groups *services.GroupService, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		groups: groups,
		audit:  audit,
	}
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	groups, err := h.groups.ListGroups(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

// CreateGroup handles POST /groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var in services.CreateGroupInput
	if !bindBody(c, &in) {
		emitAudit(c, h.audit, "ERROR", "group_create", auditTargetGroup, "", "invalid request payload")
		return
	}

	group, err := h.groups.CreateGroup(c.Request.Context(), p, in)
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, "INFO", "group_create", auditTargetGroup, group.ID, "Group created")
	c.JSON(http.StatusCreated, group)
}

// JoinGroup handles POST /groups/:id/join.
func (h *GroupHandler) JoinGroup(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	group, err := h.groups.JoinGroup(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, "INFO", "group_join", auditTargetGroup, group.ID, "Joined group")
	c.JSON(http.StatusOK, gin.H{"groupId": group.ID, "name": group.Name, "joined": true})
}

// LeaveGroup handles POST /groups/:id/leave.
func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	out, err := h.groups.LeaveGroup(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, "INFO", "group_leave", auditTargetGroup, out.GroupID, "Left group")
	c.JSON(http.StatusOK, out)
}

// ListMembers handles GET /groups/:id/members.
func (h *GroupHandler) ListMembers(c *gin.Context) {
	p, ok := currentPrincipal(c)
	if !ok {
		return
	}
	members, err := h.groups.ListMembers(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

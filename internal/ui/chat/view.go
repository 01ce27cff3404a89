// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/taskchat/internal/model"
	"github.com/jeranaias/taskchat/internal/store"
	"github.com/jeranaias/taskchat/internal/util"
)

// View renders the full frame: header, sidebar + message pane, input,
// status bar, toasts.
func (m Model) View() string {
	if m.width == 0 {
		return "starting..."
	}

	header := m.renderHeader()
	sidebar := m.renderSidebar()
	main := m.renderMain()
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)
	status := m.renderStatusBar()

	frame := lipgloss.JoinVertical(lipgloss.Left, header, body, status)

	if toasts := m.renderToasts(); toasts != "" {
		frame = lipgloss.JoinVertical(lipgloss.Left, frame, toasts)
	}
	return frame
}

// =============================================================================
// HEADER AND STATUS
// =============================================================================

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("taskchat")
	sub := ""
	if id, _ := m.svc.Selected(); id != "" {
		if conv, ok := m.conversationByID(id); ok {
			dot := m.theme.OfflineDot.Render("●")
			if m.svc.IsOnline(conv.OtherUser.ID) {
				dot = m.theme.OnlineDot.Render("●")
			}
			sub = fmt.Sprintf("  %s %s", dot, conv.OtherUser.Name)
		}
	}
	return m.theme.Header.Width(m.width).Render(title + sub)
}

func (m Model) renderStatusBar() string {
	parts := []string{
		m.theme.StatusKey.Render("tab") + m.theme.StatusDesc.Render(" pane"),
		m.theme.StatusKey.Render("enter") + m.theme.StatusDesc.Render(" send"),
		m.theme.StatusKey.Render("C-a") + m.theme.StatusDesc.Render(" archive"),
		m.theme.StatusKey.Render("C-r") + m.theme.StatusDesc.Render(" refresh"),
		m.theme.StatusKey.Render("C-c") + m.theme.StatusDesc.Render(" quit"),
	}
	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  "))
}

// =============================================================================
// SIDEBAR
// =============================================================================

func (m Model) renderSidebar() string {
	width := m.sidebarWidth()
	convs := m.svc.Conversations()
	selectedID, _ := m.svc.Selected()

	var rows []string
	for i, c := range convs {
		rows = append(rows, m.renderConvRow(&c, width-2, i == m.cursor && m.focus == focusList, c.ID == selectedID))
	}
	if len(rows) == 0 {
		rows = append(rows, m.theme.StatusDesc.Render(" no conversations yet"))
	}

	body := strings.Join(rows, "\n")
	return m.theme.Sidebar.Width(width).Height(m.viewport.Height + 2).Render(body)
}

func (m Model) renderConvRow(c *model.Conversation, width int, cursor, active bool) string {
	name := c.OtherUser.Name
	if c.IsTaskBound() {
		name += " ⚑"
	}
	preview := ""
	if c.LastMessage != nil {
		preview = c.LastMessage.Content
	}

	label := util.TruncateRunes(name, width)
	line := label
	if c.UnreadCount > 0 {
		badge := m.theme.UnreadBadge.Render(fmt.Sprintf("%d", c.UnreadCount))
		pad := width - runewidth.StringWidth(label) - lipgloss.Width(badge)
		if pad < 1 {
			pad = 1
		}
		line = label + strings.Repeat(" ", pad) + badge
	}

	style := m.theme.ConvItem
	switch {
	case cursor || active:
		style = m.theme.ConvSelected
	case c.Archived:
		style = m.theme.ConvArchived
	}

	out := style.Render(line)
	if preview != "" {
		out += "\n" + m.theme.StatusDesc.Render("  "+util.TruncateRunes(preview, width-2))
	}
	return out
}

func (m Model) conversationByID(id string) (model.Conversation, bool) {
	for _, c := range m.svc.Conversations() {
		if c.ID == id {
			return c, true
		}
	}
	return model.Conversation{}, false
}

// =============================================================================
// MESSAGE PANE
// =============================================================================

func (m Model) renderMain() string {
	var sections []string

	if banner := m.renderTaskBanner(); banner != "" {
		sections = append(sections, banner)
	}
	sections = append(sections, m.viewport.View())
	if typing := m.renderTypingLine(); typing != "" {
		sections = append(sections, typing)
	}
	sections = append(sections, m.renderInput())

	return m.theme.Main.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) renderTaskBanner() string {
	if tc := m.svc.DeferredContext(); tc != nil {
		return m.theme.TaskBanner.Width(m.viewport.Width).Render(
			fmt.Sprintf("✎ %s — first message starts a conversation with %s", tc.TaskTitle, tc.UserName))
	}
	id, _ := m.svc.Selected()
	if conv, ok := m.conversationByID(id); ok && conv.IsTaskBound() {
		return m.theme.TaskBanner.Width(m.viewport.Width).Render("⚑ " + conv.TaskTitle)
	}
	return ""
}

// renderMessages builds the viewport content: day-grouped bubbles.
func (m Model) renderMessages() string {
	_, state := m.svc.Selected()
	switch state {
	case store.StateUnselected:
		if m.svc.HasDeferredContext() {
			return m.theme.StatusDesc.Render("Write the first message below to start the conversation.")
		}
		return m.theme.StatusDesc.Render("Select a conversation to start chatting.")
	case store.StateLoading:
		return m.spinner.View() + " loading messages..."
	case store.StateError:
		msg := "couldn't load this conversation"
		if err := m.svc.SelectionError(); err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		return m.theme.ToastError.Render(msg)
	}

	groups := m.svc.MessageGroups()
	if len(groups) == 0 {
		return m.theme.StatusDesc.Render("No messages yet.")
	}

	var b strings.Builder
	for _, g := range groups {
		b.WriteString(m.theme.DayHeader.Width(m.viewport.Width).Render(g.Day.Format("Monday, Jan 2")))
		b.WriteString("\n")
		for _, msg := range g.Messages {
			b.WriteString(m.renderBubble(msg))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderBubble(msg *model.Message) string {
	outgoing := msg.Sender.ID == m.selfID

	style := m.theme.IncomingBubble
	align := lipgloss.Left
	if outgoing {
		style = m.theme.OutgoingBubble
		align = lipgloss.Right
	}

	maxWidth := m.viewport.Width * 3 / 4
	if maxWidth < 20 {
		maxWidth = 20
	}

	body := msg.Content
	for _, att := range msg.Attachments {
		tag := m.theme.AttachmentTag.Render("📎 " + att.Name)
		if body == "" {
			body = tag
		} else {
			body += "\n" + tag
		}
	}

	bubble := style.MaxWidth(maxWidth).Render(body)
	stamp := m.theme.Timestamp.Render(msg.CreatedAt.Local().Format("15:04"))
	block := lipgloss.JoinVertical(align, bubble, stamp)
	return lipgloss.PlaceHorizontal(m.viewport.Width, align, block)
}

func (m Model) renderTypingLine() string {
	names := m.svc.TypingUsers()
	if len(names) == 0 {
		return ""
	}
	verb := "is"
	if len(names) > 1 {
		verb = "are"
	}
	return m.theme.TypingLine.Render(fmt.Sprintf("%s %s typing…", strings.Join(names, ", "), verb))
}

func (m Model) renderInput() string {
	field := m.input.View()
	if m.sending {
		field = m.spinner.View() + " sending…\n" + field
	}
	return m.theme.InputContainer.Width(m.viewport.Width).Render(field)
}

// =============================================================================
// TOASTS
// =============================================================================

func (m Model) renderToasts() string {
	active := m.toasts.active()
	if len(active) == 0 {
		return ""
	}
	var rows []string
	for _, t := range active {
		style := m.theme.ToastStatus
		switch t.Kind {
		case ToastWarning:
			style = m.theme.ToastWarning
		case ToastError:
			style = m.theme.ToastError
		}
		rows = append(rows, style.Render(util.TruncateRunes(t.Message, m.width-4)))
	}
	stack := lipgloss.JoinVertical(lipgloss.Right, rows...)
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Right, stack)
}

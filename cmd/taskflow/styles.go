package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Status styles
var (
	styleRunning = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow")).
			Bold(true)

	styleRetrying = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))

	styleCompleted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)

	styleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true)

	stylePending = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	styleMuted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	styleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func statusStyle(s scheduler.Status) lipgloss.Style {
	switch s {
	case scheduler.StatusInProgress:
		return styleRunning
	case scheduler.StatusCompleted:
		return styleCompleted
	case scheduler.StatusError:
		return styleError
	default:
		return stylePending
	}
}

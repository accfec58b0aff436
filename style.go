package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render
	label     = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("241")).Render
	good      = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Bold(true).Render
	bad       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true).Render
)

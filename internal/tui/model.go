// Package tui implements the interactive storage browser. The model is
// a plain bubbletea state machine; all storage access goes through the
// Client interface so the UI can be driven in tests without touching
// disk.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/pretty"
)

type Screen string

const (
	ScreenAreas   Screen = "areas"
	ScreenStores  Screen = "stores"
	ScreenKeys    Screen = "keys"
	ScreenValue   Screen = "value"
	ScreenEdit    Screen = "edit"
	ScreenConfirm Screen = "confirm"
)

// Target names what key operations act on: the origin's key/value area
// when Database is empty, an object store otherwise.
type Target struct {
	Database string
	Store    string
}

func (t Target) String() string {
	if t.Database == "" {
		return "kv"
	}
	return t.Database + "/" + t.Store
}

type AreaInfo struct {
	Name     string
	Database bool
	Detail   string
}

type Client interface {
	Origin() string
	Areas(ctx context.Context) ([]AreaInfo, error)
	Stores(ctx context.Context, database string) ([]string, error)
	Keys(ctx context.Context, target Target) ([]string, error)
	Get(ctx context.Context, target Target, key string) (string, error)
	Put(ctx context.Context, target Target, key, value string) error
	Delete(ctx context.Context, target Target, key string) error
}

type Options struct {
	Client Client
	IsTTY  func() bool
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	valueStyle  = lipgloss.NewStyle().Padding(1, 2)
)

type Model struct {
	client Client

	screen Screen
	err    string

	areasList  list.Model
	storesList list.Model
	keysList   list.Model
	valueInput textinput.Model

	target      Target
	selectedKey string
	value       string
}

type areasMsg struct {
	areas []AreaInfo
	err   error
}

type storesMsg struct {
	database string
	stores   []string
	err      error
}

type keysMsg struct {
	target Target
	keys   []string
	err    error
}

type valueMsg struct {
	key   string
	value string
	edit  bool
	err   error
}

type savedMsg struct {
	key string
	err error
}

type deletedMsg struct {
	key string
	err error
}

func Run(opts Options) error {
	if opts.IsTTY != nil && !opts.IsTTY() {
		return fmt.Errorf("tui: requires a tty")
	}
	_, err := tea.NewProgram(NewModel(opts), tea.WithAltScreen()).Run()
	return err
}

func NewModel(opts Options) Model {
	delegate := list.NewDefaultDelegate()

	areasList := list.New([]list.Item{}, delegate, 0, 0)
	areasList.Title = "Storage areas"
	areasList.SetShowStatusBar(false)
	areasList.SetFilteringEnabled(true)
	areasList.SetShowHelp(false)
	areasList.SetSize(80, 20)

	storesList := list.New([]list.Item{}, delegate, 0, 0)
	storesList.Title = "Object stores"
	storesList.SetShowStatusBar(false)
	storesList.SetFilteringEnabled(true)
	storesList.SetShowHelp(false)
	storesList.SetSize(80, 20)

	keysList := list.New([]list.Item{}, delegate, 0, 0)
	keysList.Title = "Keys"
	keysList.SetShowStatusBar(false)
	keysList.SetFilteringEnabled(true)
	keysList.SetShowHelp(false)
	keysList.SetSize(80, 20)

	valueInput := textinput.New()
	valueInput.Placeholder = "Value"

	return Model{
		client:     opts.Client,
		screen:     ScreenAreas,
		areasList:  areasList,
		storesList: storesList,
		keysList:   keysList,
		valueInput: valueInput,
	}
}

func (m Model) Init() tea.Cmd {
	if m.client == nil {
		return nil
	}
	return m.loadAreasCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		if typed.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		height := typed.Height - 4
		if height < 1 {
			height = 1
		}
		m.areasList.SetSize(typed.Width, height)
		m.storesList.SetSize(typed.Width, height)
		m.keysList.SetSize(typed.Width, height)
	case areasMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.setAreaItems(typed.areas)
		return m, nil
	case storesMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.target = Target{Database: typed.database}
		m.setStoreItems(typed.stores)
		m.screen = ScreenStores
		return m, nil
	case keysMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.target = typed.target
		m.setKeyItems(typed.keys)
		m.screen = ScreenKeys
		return m, nil
	case valueMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.selectedKey = typed.key
		m.value = typed.value
		if typed.edit {
			return m.enterEditScreen(), nil
		}
		m.screen = ScreenValue
		return m, nil
	case savedMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.valueInput.Blur()
		m.screen = ScreenKeys
		return m, m.loadKeysCmd(m.target)
	case deletedMsg:
		if typed.err != nil {
			m.err = typed.err.Error()
			return m, nil
		}
		m.err = ""
		m.screen = ScreenKeys
		return m, m.loadKeysCmd(m.target)
	}

	switch m.screen {
	case ScreenStores:
		return m.updateStores(msg)
	case ScreenKeys:
		return m.updateKeys(msg)
	case ScreenValue:
		return m.updateValue(msg)
	case ScreenEdit:
		return m.updateEdit(msg)
	case ScreenConfirm:
		return m.updateConfirm(msg)
	default:
		return m.updateAreas(msg)
	}
}

func (m Model) View() string {
	origin := ""
	if m.client != nil {
		origin = m.client.Origin()
	}
	header := titleStyle.Render("bstore: "+origin) + "\n" +
		statusStyle.Render(m.statusLine()) + "\n"
	if m.err != "" {
		header += errorStyle.Render("Error: "+m.err) + "\n"
	}

	switch m.screen {
	case ScreenStores:
		if len(m.storesList.Items()) == 0 {
			return header + "\n" + renderEmptyState(
				"No object stores yet.",
				"Add one with `bstore db create-store "+m.target.Database+" <store>`",
			)
		}
		return header + "\n" + m.storesList.View()
	case ScreenKeys:
		if len(m.keysList.Items()) == 0 {
			if m.target.Database == "" {
				return header + "\n" + renderEmptyState("No keys yet.", "Add one with `bstore kv set <key> <value>`")
			}
			return header + "\n" + renderEmptyState(
				"No keys yet.",
				"Add one with `bstore db put "+m.target.Database+" "+m.target.Store+" <key> <value>`",
			)
		}
		return header + "\n" + m.keysList.View()
	case ScreenValue:
		body := displayValue(m.value)
		if body == "" {
			body = "(empty value)"
		}
		return header + "\n" + m.target.String() + "/" + m.selectedKey + "\n" + valueStyle.Render(body)
	case ScreenEdit:
		return header + "\n" + m.target.String() + "/" + m.selectedKey + "\n\nValue: " + m.valueInput.View()
	case ScreenConfirm:
		return header + "\n" + "Delete " + m.selectedKey + " from " + m.target.String() + "?\n\n[y] Confirm  [n]/[esc] Cancel"
	default:
		if len(m.areasList.Items()) == 0 {
			return header + "\n" + renderEmptyState(
				"Nothing stored for this origin yet.",
				"Add data with `bstore kv set ...` or `bstore db create-store ...`",
			)
		}
		return header + "\n" + m.areasList.View()
	}
}

func (m Model) statusLine() string {
	switch m.screen {
	case ScreenStores:
		return "[enter] Open  [esc] Back  [q] Quit"
	case ScreenKeys:
		return "[enter] View  [e] Edit  [d] Delete  [r] Reload  [esc] Back  [q] Quit"
	case ScreenValue:
		return "[e] Edit  [esc] Back"
	case ScreenEdit:
		return "[enter] Save  [esc] Cancel"
	case ScreenConfirm:
		return "[y] Confirm  [n] Cancel"
	default:
		return "[enter] Open  [r] Reload  [/] Filter  [q] Quit"
	}
}

func renderEmptyState(title, guidance string) string {
	return title + "\n" + guidance
}

// displayValue pretty-prints values that hold JSON; everything else is
// shown as stored.
func displayValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return value
	}
	return strings.TrimRight(string(pretty.Pretty([]byte(trimmed))), "\n")
}

func (m Model) updateAreas(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok && m.areasList.FilterState() != list.Filtering {
		switch typed.String() {
		case "q":
			return m, tea.Quit
		case "r":
			return m, m.loadAreasCmd()
		case "enter":
			item, ok := m.areasList.SelectedItem().(areaItem)
			if !ok {
				return m, nil
			}
			if item.database {
				return m, m.loadStoresCmd(item.name)
			}
			return m, m.loadKeysCmd(Target{})
		}
	}
	var cmd tea.Cmd
	m.areasList, cmd = m.areasList.Update(msg)
	return m, cmd
}

func (m Model) updateStores(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok && m.storesList.FilterState() != list.Filtering {
		switch typed.String() {
		case "q":
			return m, tea.Quit
		case "esc":
			m.screen = ScreenAreas
			return m, nil
		case "enter":
			item, ok := m.storesList.SelectedItem().(storeItem)
			if !ok {
				return m, nil
			}
			return m, m.loadKeysCmd(Target{Database: m.target.Database, Store: item.name})
		}
	}
	var cmd tea.Cmd
	m.storesList, cmd = m.storesList.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok && m.keysList.FilterState() != list.Filtering {
		switch typed.String() {
		case "q":
			return m, tea.Quit
		case "esc":
			if m.target.Database != "" {
				m.screen = ScreenStores
			} else {
				m.screen = ScreenAreas
			}
			return m, nil
		case "r":
			return m, m.loadKeysCmd(m.target)
		case "enter":
			item, ok := m.keysList.SelectedItem().(keyItem)
			if !ok {
				return m, nil
			}
			return m, m.loadValueCmd(item.name, false)
		case "e":
			item, ok := m.keysList.SelectedItem().(keyItem)
			if !ok {
				return m, nil
			}
			return m, m.loadValueCmd(item.name, true)
		case "d":
			item, ok := m.keysList.SelectedItem().(keyItem)
			if !ok {
				return m, nil
			}
			m.selectedKey = item.name
			m.screen = ScreenConfirm
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.keysList, cmd = m.keysList.Update(msg)
	return m, cmd
}

func (m Model) updateValue(msg tea.Msg) (tea.Model, tea.Cmd) {
	typed, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch typed.String() {
	case "esc", "q":
		m.screen = ScreenKeys
		return m, nil
	case "e":
		return m.enterEditScreen(), nil
	}
	return m, nil
}

func (m Model) updateEdit(msg tea.Msg) (tea.Model, tea.Cmd) {
	if typed, ok := msg.(tea.KeyMsg); ok {
		switch typed.String() {
		case "enter":
			return m, m.saveCmd(m.target, m.selectedKey, m.valueInput.Value())
		case "esc":
			m.valueInput.Blur()
			m.screen = ScreenKeys
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.valueInput, cmd = m.valueInput.Update(msg)
	return m, cmd
}

func (m Model) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	typed, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch typed.String() {
	case "y", "enter":
		return m, m.deleteCmd(m.target, m.selectedKey)
	case "n", "esc":
		m.screen = ScreenKeys
		return m, nil
	}
	return m, nil
}

func (m Model) enterEditScreen() Model {
	m.valueInput.SetValue(m.value)
	m.valueInput.CursorEnd()
	m.valueInput.Focus()
	m.screen = ScreenEdit
	return m
}

func (m Model) loadAreasCmd() tea.Cmd {
	return func() tea.Msg {
		areas, err := m.client.Areas(context.Background())
		return areasMsg{areas: areas, err: err}
	}
}

func (m Model) loadStoresCmd(database string) tea.Cmd {
	return func() tea.Msg {
		stores, err := m.client.Stores(context.Background(), database)
		return storesMsg{database: database, stores: stores, err: err}
	}
}

func (m Model) loadKeysCmd(target Target) tea.Cmd {
	return func() tea.Msg {
		keys, err := m.client.Keys(context.Background(), target)
		return keysMsg{target: target, keys: keys, err: err}
	}
}

func (m Model) loadValueCmd(key string, edit bool) tea.Cmd {
	return func() tea.Msg {
		value, err := m.client.Get(context.Background(), m.target, key)
		return valueMsg{key: key, value: value, edit: edit, err: err}
	}
}

func (m Model) saveCmd(target Target, key, value string) tea.Cmd {
	return func() tea.Msg {
		err := m.client.Put(context.Background(), target, key, value)
		return savedMsg{key: key, err: err}
	}
}

func (m Model) deleteCmd(target Target, key string) tea.Cmd {
	return func() tea.Msg {
		err := m.client.Delete(context.Background(), target, key)
		return deletedMsg{key: key, err: err}
	}
}

func (m *Model) setAreaItems(areas []AreaInfo) {
	items := make([]list.Item, 0, len(areas))
	for _, area := range areas {
		items = append(items, areaItem{name: area.Name, database: area.Database, detail: area.Detail})
	}
	m.areasList.SetItems(items)
}

func (m *Model) setStoreItems(stores []string) {
	items := make([]list.Item, 0, len(stores))
	for _, name := range stores {
		items = append(items, storeItem{name: name})
	}
	m.storesList.SetItems(items)
}

func (m *Model) setKeyItems(keys []string) {
	items := make([]list.Item, 0, len(keys))
	for _, name := range keys {
		items = append(items, keyItem{name: name})
	}
	m.keysList.SetItems(items)
}

type areaItem struct {
	name     string
	database bool
	detail   string
}

func (i areaItem) Title() string {
	if i.database {
		return "db: " + i.name
	}
	return i.name
}
func (i areaItem) Description() string { return i.detail }
func (i areaItem) FilterValue() string { return i.name }

type storeItem struct {
	name string
}

func (i storeItem) Title() string       { return i.name }
func (i storeItem) Description() string { return "object store" }
func (i storeItem) FilterValue() string { return i.name }

type keyItem struct {
	name string
}

func (i keyItem) Title() string       { return i.name }
func (i keyItem) Description() string { return "Press Enter to view" }
func (i keyItem) FilterValue() string { return i.name }

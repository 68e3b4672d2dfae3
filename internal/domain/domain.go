package domain

type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CodePrefix string `json:"code_prefix"`
	Currency   string `json:"currency,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type TaskType string

const (
	TypeTask      TaskType = "task"
	TypeMilestone TaskType = "milestone"
	TypeSubtask   TaskType = "subtask"
	TypeBug       TaskType = "bug"
	TypeFeature   TaskType = "feature"
	TypeEpic      TaskType = "epic"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusInReview   Status = "in-review"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// KanbanLanes is the fixed board layout; cancelled tasks are not laned.
var KanbanLanes = []Status{StatusTodo, StatusInProgress, StatusInReview, StatusBlocked, StatusCompleted}

func ValidType(t TaskType) bool {
	switch t {
	case TypeTask, TypeMilestone, TypeSubtask, TypeBug, TypeFeature, TypeEpic:
		return true
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusBlocked, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Resolved reports whether a status no longer blocks dependents.
func Resolved(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PriorityRank orders priorities for sorting, critical first.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type Budget struct {
	Estimated float64 `json:"estimated"`
	Actual    float64 `json:"actual"`
	Currency  string  `json:"currency"`
}

type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type Comment struct {
	ID        string `json:"id"`
	AuthorID  string `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// CustomValue is one entry of a task's open custom-field map. Kind selects
// which value field is meaningful; the others stay at their zero value.
type CustomValue struct {
	Kind   CustomKind `json:"kind" enum:"string,number,bool,date"`
	String string     `json:"string,omitempty"`
	Number float64    `json:"number,omitempty"`
	Bool   bool       `json:"bool,omitempty"`
	Date   string     `json:"date,omitempty" format:"date"`
}

type CustomKind string

const (
	CustomString CustomKind = "string"
	CustomNumber CustomKind = "number"
	CustomBool   CustomKind = "bool"
	CustomDate   CustomKind = "date"
)

func ValidCustomKind(k CustomKind) bool {
	switch k {
	case CustomString, CustomNumber, CustomBool, CustomDate:
		return true
	}
	return false
}

// Task is the core entity. The forest is arena-shaped: tasks reference each
// other by id only (ParentID up, SubtaskIDs down), never by pointer.
type Task struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	ProjectID string `json:"project_id"`

	Type     TaskType `json:"type" enum:"task,milestone,subtask,bug,feature,epic"`
	Title    string   `json:"title"`
	Detail   string   `json:"detail,omitempty"`
	Status   Status   `json:"status" enum:"todo,in-progress,in-review,blocked,completed,cancelled"`
	Priority Priority `json:"priority" enum:"critical,high,medium,low"`

	Assignee Person   `json:"assignee"`
	Reporter Person   `json:"reporter"`
	Watchers []string `json:"watchers,omitempty"`

	StartDate       string `json:"start_date" format:"date"`
	DueDate         string `json:"due_date" format:"date"`
	ActualStartDate string `json:"actual_start_date,omitempty" format:"date"`
	ActualEndDate   string `json:"actual_end_date,omitempty" format:"date"`

	EstimatedHours float64 `json:"estimated_hours"`
	ActualHours    float64 `json:"actual_hours"`
	RemainingHours float64 `json:"remaining_hours"`

	Progress int `json:"progress" minimum:"0" maximum:"100"`

	Dependencies []string `json:"dependencies,omitempty"`
	BlockedBy    []string `json:"blocked_by,omitempty"`
	Blocks       []string `json:"blocks,omitempty"`
	ParentID     string   `json:"parent_id,omitempty"`
	SubtaskIDs   []string `json:"subtask_ids,omitempty"`

	// EffectivelyBlocked is derived from the dependency graph on read; it is
	// never persisted and may disagree with the stored Status.
	EffectivelyBlocked bool `json:"effectively_blocked"`

	Budget Budget `json:"budget"`

	Tags         []string               `json:"tags,omitempty"`
	Labels       []string               `json:"labels,omitempty"`
	Checklist    []ChecklistItem        `json:"checklist,omitempty"`
	Comments     []Comment              `json:"comments,omitempty"`
	Attachments  int                    `json:"attachments"`
	CustomFields map[string]CustomValue `json:"custom_fields,omitempty"`

	CreatedAt   string `json:"created_at" format:"date-time"`
	LastUpdated string `json:"last_updated" format:"date-time"`
}

// Stats summarizes a task snapshot for dashboard widgets. CompletionRate is
// a whole percent, rounded to the nearest integer.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	InProgress     int `json:"in_progress"`
	Blocked        int `json:"blocked"`
	OverdueCount   int `json:"overdue_count"`
	CompletionRate int `json:"completion_rate"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Index builds an id lookup over a flattened task list.
func Index(tasks []Task) map[string]Task {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return byID
}

// Clone deep-copies a task so callers can hand out snapshots without
// aliasing the store's slices and maps.
func (t Task) Clone() Task {
	c := t
	c.Watchers = cloneStrings(t.Watchers)
	c.Dependencies = cloneStrings(t.Dependencies)
	c.BlockedBy = cloneStrings(t.BlockedBy)
	c.Blocks = cloneStrings(t.Blocks)
	c.SubtaskIDs = cloneStrings(t.SubtaskIDs)
	c.Tags = cloneStrings(t.Tags)
	c.Labels = cloneStrings(t.Labels)
	if t.Checklist != nil {
		c.Checklist = append([]ChecklistItem(nil), t.Checklist...)
	}
	if t.Comments != nil {
		c.Comments = append([]Comment(nil), t.Comments...)
	}
	if t.CustomFields != nil {
		c.CustomFields = make(map[string]CustomValue, len(t.CustomFields))
		for k, v := range t.CustomFields {
			c.CustomFields[k] = v
		}
	}
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

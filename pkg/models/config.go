package models

// Per-type node config payloads. Field names mirror the editor's persistence
// format (camelCase), so a graph exported by the editor loads without a
// translation layer.

// StateConfig configures a document lifecycle state.
type StateConfig struct {
	StateKey    string           `json:"stateKey"           validate:"required"`
	Color       string           `json:"color,omitempty"`
	IsInitial   bool             `json:"isInitial"`
	IsFinal     bool             `json:"isFinal"`
	Permissions StatePermissions `json:"permissions"`
}

func (*StateConfig) nodeConfig() {}

// StatePermissions declares who may view and edit a document while it sits in
// a state. Restriction lists narrow access; an absent or empty list leaves the
// dimension unrestricted.
type StatePermissions struct {
	View                ViewPermissions `json:"view"`
	EditMainForm        bool            `json:"editMainForm"`
	EditMainFormRoles   []string        `json:"editMainFormRoles,omitempty"`
	EditMainFormUsers   []string        `json:"editMainFormUsers,omitempty"`
	EditChildForms      bool            `json:"editChildForms"`
	EditChildFormsRoles []string        `json:"editChildFormsRoles,omitempty"`
	EditChildFormsUsers []string        `json:"editChildFormsUsers,omitempty"`
	SpecificChildForms  []string        `json:"specificChildForms,omitempty"`
	ApprovalLevel       int             `json:"approvalLevel,omitempty"`
}

// ViewPermissions controls read access to a document in a state.
// IncludeSubmitter and IncludeApprovers default to true when absent.
type ViewPermissions struct {
	Roles            []string `json:"roles,omitempty"`
	Users            []string `json:"users,omitempty"`
	IncludeSubmitter *bool    `json:"includeSubmitter,omitempty"`
	IncludeApprovers *bool    `json:"includeApprovers,omitempty"`
}

// SubmitterIncluded reports whether the submitter may view (absent = true).
func (v ViewPermissions) SubmitterIncluded() bool {
	return v.IncludeSubmitter == nil || *v.IncludeSubmitter
}

// ApproversIncluded reports whether current approvers may view (absent = true).
func (v ViewPermissions) ApproversIncluded() bool {
	return v.IncludeApprovers == nil || *v.IncludeApprovers
}

// ApprovalType selects the completion barrier for an approval node.
type ApprovalType string

const (
	ApprovalTypeSingle ApprovalType = "single" // one approver's action commits
	ApprovalTypeAll    ApprovalType = "all"    // AND barrier over all resolved approvers
	ApprovalTypeAny    ApprovalType = "any"    // first action commits, the rest are no-ops
)

// ApprovalConfig configures an approval node.
type ApprovalConfig struct {
	DefaultApprovers  []ApproverConfig   `json:"defaultApprovers"`
	UserApprovalRules []UserApprovalRule `json:"userApprovalRules,omitempty"`
	ApprovalType      ApprovalType       `json:"approvalType"      validate:"required,oneof=single all any"`
	AllowReassign     bool               `json:"allowReassign"`
	RequiresComment   bool               `json:"requiresComment"`
	TimeoutDays       int                `json:"timeoutDays,omitempty"`
}

func (*ApprovalConfig) nodeConfig() {}

// ApproverType discriminates the ApproverConfig variant.
type ApproverType string

const (
	ApproverTypeRole             ApproverType = "role"
	ApproverTypeUser             ApproverType = "user"
	ApproverTypeSubmitterManager ApproverType = "submitter_manager"
	ApproverTypeDepartment       ApproverType = "department"
	ApproverTypeDynamic          ApproverType = "dynamic"
)

// ApproverConfig is an abstract approver reference. Exactly one of the
// variant fields is meaningful, selected by Type.
type ApproverConfig struct {
	Type          ApproverType `json:"type"                    validate:"required,oneof=role user submitter_manager department dynamic"`
	RoleID        string       `json:"roleId,omitempty"`
	UserID        string       `json:"userId,omitempty"`
	DepartmentKey string       `json:"departmentKey,omitempty"`
	FieldKey      string       `json:"fieldKey,omitempty"`
}

// UserApprovalRule overrides the default approver set when its submitter
// condition matches the document's submitter. The first matching rule wins and
// replaces the defaults entirely.
type UserApprovalRule struct {
	SubmitterCondition SubmitterCondition `json:"submitterCondition"`
	Approvers          []ApproverConfig   `json:"approvers"`
}

// SubmitterCondition matches a document submitter by identity, role,
// department, or an arbitrary directory attribute.
type SubmitterCondition struct {
	Type      string          `json:"type"                validate:"required,oneof=user role department attribute"`
	Attribute string          `json:"attribute,omitempty"` // attribute key, for type "attribute"
	Operator  CompareOperator `json:"operator"`
	Value     any             `json:"value"`
}

// LogicalOperator combines the expressions of one condition rule.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// CompareOperator is a binary comparison in a condition expression.
type CompareOperator string

const (
	OpEqual        CompareOperator = "=="
	OpNotEqual     CompareOperator = "!="
	OpGreater      CompareOperator = ">"
	OpLess         CompareOperator = "<"
	OpGreaterEqual CompareOperator = ">="
	OpLessEqual    CompareOperator = "<="
	OpContains     CompareOperator = "contains"
	OpIn           CompareOperator = "in"
	OpStartsWith   CompareOperator = "startsWith"
	OpEndsWith     CompareOperator = "endsWith"
)

// OperandType selects where a condition operand reads its value from.
type OperandType string

const (
	OperandField         OperandType = "field"          // document.data[value]
	OperandUserAttribute OperandType = "user_attribute" // submitter attribute lookup
	OperandConstant      OperandType = "constant"       // literal
)

// Operand is one side of a condition expression.
type Operand struct {
	Type  OperandType `json:"type"  validate:"required,oneof=field user_attribute constant"`
	Value any         `json:"value"`
}

// ConditionExpression compares two operands.
type ConditionExpression struct {
	LeftOperand  Operand         `json:"leftOperand"`
	Operator     CompareOperator `json:"operator"     validate:"required"`
	RightOperand Operand         `json:"rightOperand"`
}

// ConditionRule is an ordered branch candidate: all expressions combine under
// the rule's single logical operator. There is no per-expression nesting.
type ConditionRule struct {
	Name            string                `json:"name"`
	Rules           []ConditionExpression `json:"rules"`
	LogicalOperator LogicalOperator       `json:"logicalOperator"`
	TargetBranch    string                `json:"targetBranch"    validate:"required"`
}

// DefaultElseBranch is the implicit fallback branch key of a condition node.
const DefaultElseBranch = "else"

// ConditionConfig configures a condition node. Rules are evaluated in
// declaration order; the first match wins, otherwise DefaultBranch is taken.
type ConditionConfig struct {
	ConditionType string          `json:"conditionType,omitempty"`
	Conditions    []ConditionRule `json:"conditions"`
	DefaultBranch string          `json:"defaultBranch"`
}

func (*ConditionConfig) nodeConfig() {}

// ForkBranch names one parallel branch of a fork node. The branch ID doubles
// as the fork node's output socket name.
type ForkBranch struct {
	ID   string `json:"id"   validate:"required"`
	Name string `json:"name"`
}

// ForkConfig configures a fork node.
type ForkConfig struct {
	Branches []ForkBranch `json:"branches" validate:"min=2"`
}

func (*ForkConfig) nodeConfig() {}

// JoinType selects the join barrier semantics.
type JoinType string

const (
	JoinAll JoinType = "all" // AND barrier: wait for every expected branch
	JoinAny JoinType = "any" // OR barrier: first arrival wins
)

// TimeoutAction is applied when a join barrier times out.
type TimeoutAction string

const (
	TimeoutContinue TimeoutAction = "continue"
	TimeoutEscalate TimeoutAction = "escalate"
	TimeoutCancel   TimeoutAction = "cancel"
)

// JoinTimeout bounds how long a join barrier waits for its branches.
type JoinTimeout struct {
	Enabled bool          `json:"enabled"`
	Days    int           `json:"days"`
	Action  TimeoutAction `json:"action" validate:"omitempty,oneof=continue escalate cancel"`
}

// JoinConfig configures a join node.
type JoinConfig struct {
	JoinType         JoinType     `json:"joinType"         validate:"required,oneof=all any"`
	ExpectedBranches []string     `json:"expectedBranches"`
	Timeout          *JoinTimeout `json:"timeout,omitempty"`
}

func (*JoinConfig) nodeConfig() {}

// RecipientType discriminates the RecipientConfig variant for notification and
// email nodes.
type RecipientType string

const (
	RecipientSubmitter RecipientType = "submitter"
	RecipientApprovers RecipientType = "approvers"
	RecipientRole      RecipientType = "role"
	RecipientUser      RecipientType = "user"
	RecipientDynamic   RecipientType = "dynamic" // user id read from a document field
)

// RecipientConfig is an abstract message recipient reference.
type RecipientConfig struct {
	Type     RecipientType `json:"type"               validate:"required,oneof=submitter approvers role user dynamic"`
	RoleID   string        `json:"roleId,omitempty"`
	UserID   string        `json:"userId,omitempty"`
	FieldKey string        `json:"fieldKey,omitempty"`
}

// NotificationConfig configures an in-app notification node. Title and message
// support {{placeholder}} substitution against document field values.
type NotificationConfig struct {
	Recipients []RecipientConfig `json:"recipients"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
}

func (*NotificationConfig) nodeConfig() {}

// EmailConfig configures an outbound email node.
type EmailConfig struct {
	Recipients []RecipientConfig `json:"recipients"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
}

func (*EmailConfig) nodeConfig() {}

// WebhookOnError selects the failure policy of a webhook node.
type WebhookOnError string

const (
	WebhookErrorFail     WebhookOnError = "fail"
	WebhookErrorContinue WebhookOnError = "continue"
	WebhookErrorRetry    WebhookOnError = "retry"
)

// WebhookOnSuccess selects how a webhook node continues after a successful
// call: along its single output, or branching on the response.
type WebhookOnSuccess string

const (
	WebhookSuccessContinue WebhookOnSuccess = "continue"
	WebhookSuccessBranch   WebhookOnSuccess = "branch"
)

// RetryConfig bounds webhook retry behavior under the "retry" error policy.
type RetryConfig struct {
	MaxRetries        int `json:"maxRetries"`
	RetryDelaySeconds int `json:"retryDelaySeconds"`
}

// WebhookConfig configures an outbound HTTP call node. URL, headers, and
// payload support {{placeholder}} substitution.
type WebhookConfig struct {
	URL       string            `json:"url"       validate:"required"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Payload   string            `json:"payload,omitempty"`
	OnSuccess WebhookOnSuccess  `json:"onSuccess,omitempty" validate:"omitempty,oneof=continue branch"`
	OnError   WebhookOnError    `json:"onError,omitempty"   validate:"omitempty,oneof=fail continue retry"`
	Retry     *RetryConfig      `json:"retryConfig,omitempty"`
}

func (*WebhookConfig) nodeConfig() {}

// TimerConfig configures a delayed resumption node. The executor suspends and
// expects an external scheduler to re-deliver the resumption when due.
type TimerConfig struct {
	DelayDays    int  `json:"delayDays"`
	DelayHours   int  `json:"delayHours"`
	BusinessDays bool `json:"businessDays"` // skip Saturday/Sunday when counting days
}

func (*TimerConfig) nodeConfig() {}

// ChildFormEntryConfig configures a child-form data entry checkpoint.
type ChildFormEntryConfig struct {
	FormKey  string `json:"formKey" validate:"required"`
	Required bool   `json:"required"`
}

func (*ChildFormEntryConfig) nodeConfig() {}

// ViewPermissionConfig grants additional read access when traversed. The grant
// overlays the current state's view permissions for the rest of the document's
// lifecycle.
type ViewPermissionConfig struct {
	Roles []string `json:"roles,omitempty"`
	Users []string `json:"users,omitempty"`
}

func (*ViewPermissionConfig) nodeConfig() {}

package tenant

// Policy describes one guard predicate. Rows in rls_policies mirror this list
// for introspection; enforcement lives in the trigger functions.
type Policy struct {
	Table     string `db:"table_name" json:"table"`
	Name      string `db:"policy_name" json:"name"`
	Operation string `db:"operation" json:"operation"`
	Predicate string `db:"predicate" json:"predicate"`
	Active    bool   `db:"is_active" json:"active"`
}

var DefaultPolicies = []Policy{
	{Table: "activities", Name: "activities_select_own", Operation: "SELECT", Predicate: "user_id = rls_current_user_id()", Active: true},
	{Table: "activities", Name: "activities_insert_own", Operation: "INSERT", Predicate: "NEW.user_id = rls_current_user_id()", Active: true},
	{Table: "activities", Name: "activities_update_own", Operation: "UPDATE", Predicate: "OLD.user_id = rls_current_user_id() AND NEW.user_id = rls_current_user_id()", Active: true},
	{Table: "activities", Name: "activities_delete_own", Operation: "DELETE", Predicate: "OLD.user_id = rls_current_user_id() OR (rls_admin_override() AND rls_acting_is_admin())", Active: true},
	{Table: "users", Name: "users_select_self_or_admin", Operation: "SELECT", Predicate: "id = rls_current_user_id() OR rls_acting_is_admin()", Active: true},
	{Table: "users", Name: "users_update_self_or_admin", Operation: "UPDATE", Predicate: "rls_acting_is_admin() OR (OLD.id = rls_current_user_id() AND NEW.is_admin = OLD.is_admin)", Active: true},
}

// guardTriggers are the trigger names Verify expects to find enabled.
var guardTriggers = []string{
	"rls_activities_insert",
	"rls_activities_update",
	"rls_activities_delete",
	"rls_users_update",
}

var protectedViews = []string{"protected_activities", "protected_users"}

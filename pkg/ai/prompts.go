package ai

// Delimiters of the extraction record protocol.
const (
	TupleDelimiter      = "<|>"
	RecordDelimiter     = "##"
	CompletionDelimiter = "<|COMPLETE|>"
)

// DefaultLanguage is the output language of extraction and summaries.
const DefaultLanguage = "English"

// DefaultEntityTypes covers the clinical vocabulary plus the handful of
// generic types needed for dated news articles.
var DefaultEntityTypes = []string{
	"disease",
	"clinical manifestation",
	"body part",
	"medical procedure",
	"medical device",
	"laboratory test",
	"drug",
	"microorganism",
	"hospital department",
	"organization",
	"person",
	"location",
	"event",
}

// FailResponse is returned whenever no grounded answer can be produced.
const FailResponse = "Sorry, I'm not able to provide an answer to that question."

// EntityExtractionPrompt arguments:
// 1 language, 2 entity types, 3 tuple delimiter, 4 record delimiter,
// 5 completion delimiter, 6 examples, 7 input text.
const EntityExtractionPrompt = `
# Task Context
You are a medical knowledge engineer. Given a text document and a list of entity types, identify all entities of those types in the text and all relationships among the identified entities.
Use %[1]s as output language.

# Detailed Task Description & Rules
1. Identify all entities. For each identified entity, extract:
- entity_name: name of the entity in the language of the input text. Capitalize English names.
- entity_type: one of the following types: [%[2]s]
- entity_description: comprehensive description of the entity's attributes and activities. Keep explicit dates that appear in the text.
Format each entity as ("entity"%[3]s<entity_name>%[3]s<entity_type>%[3]s<entity_description>)

2. From the entities identified in step 1, identify all pairs of (source_entity, target_entity) that are *clearly related* to each other. For each pair extract:
- source_entity: name of the source entity, as identified in step 1
- target_entity: name of the target entity, as identified in step 1
- relationship_description: why the source entity and the target entity are related
- relationship_keywords: one or more high-level keywords summarizing the nature of the relationship
- relationship_strength: a numeric score between 1 and 10 for the strength of the relationship
Format each relationship as ("relationship"%[3]s<source_entity>%[3]s<target_entity>%[3]s<relationship_description>%[3]s<relationship_keywords>%[3]s<relationship_strength>)

3. Identify high-level keywords that summarize the main concepts or topics of the whole text.
Format them as ("content_keywords"%[3]s<high_level_keywords>)

4. Return a single list of all entities and relationships identified in steps 1 and 2. Use **%[4]s** as the list delimiter.
Entities that cannot be strictly classified as one of the given types must not be extracted.

5. When finished, output %[5]s

# Examples
%[6]s

# Real Data
Entity_types: [%[2]s]
Text: %[7]s

Output:
`

// EntityExtractionExample arguments: 1 tuple delimiter, 2 record delimiter,
// 3 completion delimiter.
const EntityExtractionExample = `Example 1:

Entity_types: [disease, clinical manifestation, drug, body part, laboratory test]
Text:
Type 2 diabetes mellitus is characterized by insulin resistance. Patients often present with polyuria and polydipsia. Metformin is the first-line drug and lowers hepatic glucose output. HbA1c is used to monitor long-term glycemic control.

Output:
("entity"%[1]s"Type 2 Diabetes Mellitus"%[1]s"disease"%[1]s"A chronic metabolic disease characterized by insulin resistance.")%[2]s
("entity"%[1]s"Polyuria"%[1]s"clinical manifestation"%[1]s"Excessive urination, a common presenting symptom of diabetes.")%[2]s
("entity"%[1]s"Polydipsia"%[1]s"clinical manifestation"%[1]s"Excessive thirst, a common presenting symptom of diabetes.")%[2]s
("entity"%[1]s"Metformin"%[1]s"drug"%[1]s"First-line oral drug for type 2 diabetes that lowers hepatic glucose output.")%[2]s
("entity"%[1]s"Liver"%[1]s"body part"%[1]s"The organ whose glucose output is lowered by metformin.")%[2]s
("entity"%[1]s"HbA1c"%[1]s"laboratory test"%[1]s"Laboratory test used to monitor long-term glycemic control.")%[2]s
("relationship"%[1]s"Type 2 Diabetes Mellitus"%[1]s"Polyuria"%[1]s"Polyuria is a presenting symptom of type 2 diabetes."%[1]s"symptom, presentation"%[1]s8)%[2]s
("relationship"%[1]s"Type 2 Diabetes Mellitus"%[1]s"Polydipsia"%[1]s"Polydipsia is a presenting symptom of type 2 diabetes."%[1]s"symptom, presentation"%[1]s8)%[2]s
("relationship"%[1]s"Metformin"%[1]s"Type 2 Diabetes Mellitus"%[1]s"Metformin is the first-line treatment of type 2 diabetes."%[1]s"treatment, first-line therapy"%[1]s10)%[2]s
("relationship"%[1]s"Metformin"%[1]s"Liver"%[1]s"Metformin lowers glucose output of the liver."%[1]s"mechanism of action"%[1]s7)%[2]s
("relationship"%[1]s"HbA1c"%[1]s"Type 2 Diabetes Mellitus"%[1]s"HbA1c monitors glycemic control in type 2 diabetes."%[1]s"monitoring, diagnosis"%[1]s9)%[2]s
("content_keywords"%[1]s"diabetes, symptoms, first-line therapy, glycemic monitoring")%[3]s
`

// ContinueExtractionPrompt arguments: 1 entity types.
const ContinueExtractionPrompt = `MANY entities were missed in the last extraction. If there are still entities of the types [%[1]s] that were not extracted, add them below using the same format, together with their relationships.
Entities that cannot be strictly classified as one of the given types must not be extracted.
Output:
`

// LoopExtractionPrompt asks whether another continuation round is needed.
const LoopExtractionPrompt = `It appears some entities may have still been missed. Answer YES | NO if there are still entities that need to be added.
`

// SummarizeDescriptionsPrompt arguments: 1 language, 2 entity or relation
// name, 3 description list.
const SummarizeDescriptionsPrompt = `
# Task Context
You are a helpful assistant responsible for generating a comprehensive summary of the data provided below.
Given one or two entities and a list of descriptions, all related to the same entity or group of entities, concatenate all of these into a single, comprehensive description. Make sure to include information collected from all the descriptions.
If the provided descriptions are contradictory, resolve the contradictions and provide a single, coherent summary. Keep every explicit date, and when descriptions disagree state which fact is more recent.
Write in third person and include the entity names so we have the full context.
Use %[1]s as output language.

# Data
Entities: %[2]s
Description List: %[3]s

Output:
`

// KeywordsExtractionPrompt arguments: 1 examples, 2 query.
const KeywordsExtractionPrompt = `
# Task Context
You are a helpful assistant tasked with identifying both high-level and low-level keywords in the user's query.

# Detailed Task Description & Rules
- high_level_keywords focus on overarching concepts, themes and relations.
- low_level_keywords focus on specific entities, details and concrete terms.
- Use the language of the query for the keywords.

# Output Formatting
Output the keywords in JSON format with exactly two keys:
{"high_level_keywords": [...], "low_level_keywords": [...]}

# Examples
%[1]s

# Real Data
Query: %[2]s

Output:
`

// KeywordsExtractionExamples are embedded in KeywordsExtractionPrompt.
const KeywordsExtractionExamples = `Example 1:

Query: "What is the first-line treatment for type 2 diabetes and how is it monitored?"
Output:
{"high_level_keywords": ["Diabetes treatment", "Therapy monitoring", "Clinical guideline"], "low_level_keywords": ["Type 2 diabetes", "Metformin", "HbA1c"]}

Example 2:

Query: "Which department treats acute appendicitis and which tests confirm it?"
Output:
{"high_level_keywords": ["Surgical care", "Diagnosis"], "low_level_keywords": ["Acute appendicitis", "General surgery", "Ultrasound", "White blood cell count"]}
`

// RAGResponsePrompt arguments: 1 response type, 2 temporal directive,
// 3 context tables.
const RAGResponsePrompt = `---Role---

You are a helpful assistant responding to questions about data in the tables provided.

---Goal---

Generate a response of the target length and format that responds to the user's question, summarizing all information in the input data tables appropriate for the response length and format, and incorporating any relevant general knowledge.
If you don't know the answer, just say so. Do not make anything up.
Do not include information where the supporting evidence for it is not provided.

---Temporal Awareness---

The input data carries "created_at" timestamps (storage metadata), "event_time" values and the original text chunks (Sources).
1. Time of an event: first check whether the text itself contains an explicit date of the event (for example "October 2023" or "2025-12-16"). If it does, that date is when the event happened and overrides a newer "created_at" (an old article may have been ingested recently). Only when the text has no explicit date, use "created_at" as the time of the event. The "event_time" column already applies this rule and "time_source" tells which source was used.
2. Conflicts: when information about the same entity or relationship conflicts, prefer the information whose actual time, by the rule above, is the most recent. The Timeline table marks the latest source per entity.
3. %[2]s

---Target response length and format---

%[1]s

---Data tables---

%[3]s

Add sections and commentary to the response as appropriate for the length and format. Style the response in markdown.
`

// NaiveRAGResponsePrompt arguments: 1 response type, 2 temporal directive,
// 3 document chunks.
const NaiveRAGResponsePrompt = `---Role---

You are a helpful assistant responding to questions about the documents provided.

---Goal---

Generate a response of the target length and format that responds to the user's question, summarizing all information in the input documents appropriate for the response length and format, and incorporating any relevant general knowledge.
If you don't know the answer, just say so. Do not make anything up.
Do not include information where the supporting evidence for it is not provided.

---Temporal Awareness---

An explicit date inside a document is authoritative for when the described event happened. The "created_at" of a document is only a fallback when it contains no date. When documents conflict, prefer the most recent one by that rule.
%[2]s

---Target response length and format---

%[1]s

---Documents---

%[3]s

Add sections and commentary to the response as appropriate for the length and format. Style the response in markdown.
`

// Temporal directives inserted into the response prompts.
const (
	CurrentStateDirective = "Unless the user explicitly asks about history or former events, answer with the latest actual state."
	HistoricalDirective   = "The user asks about history or former state: describe how the facts evolved in chronological order and say which state is the latest."
)

// DefaultResponseType is used when a query does not ask for a format.
const DefaultResponseType = "Multiple Paragraphs"

package llm

const initialSummaryPrompt = `--- TEXT START ---
%s
--- TEXT END ---

You are a precision summarization expert. Summarize the provided text by
organizing all of its information into a clear, structured format. Preserve
every fact, data point, argument, and perspective from the original; do not
add interpretations, context, or commentary that is not present in the text.
Group related concepts, keep the original's logical flow, and keep key
terminology intact.

Output just the summary now:`

const combinedSummaryPrompt = `You are a note-compilation system. Transform the
notes below into one coherent, well-structured Markdown document without
adding new information or removing existing content. Group related concepts,
reorder only where it helps clarity, and use headers, bold, and lists where
the material calls for them. Do not include meta-commentary about what you
did.

--- NOTES START ---
%s
--- NOTES END ---

Desired summary style: %s
  - short: 1-2 paragraphs with only the main points
  - medium: 2-4 paragraphs with main points and key supporting details
  - comprehensive: all significant information, organized into sections

Output the document with a title heading derived from the content:`

const repoStoryPrompt = `# Repository context for story generation

%s

# End of context

Transform the commit history of '%s' into a whimsical, dramatic, humor-filled
narrative about the ups and downs of its development. Read the commits
chronologically, find themes (bug-fix sprees, desperate hotfixes, refactoring
madness), and cast exaggerated developer archetypes as characters. Cryptic
commit messages become legend ("Fixed stuff" becomes "the hero defeats the
unnamed beast"), merge conflicts become civil wars, and a last-minute force
push is a frantic wizard's spell. Keep the tone lighthearted but technically
grounded, and end on a climactic moment. Output valid Markdown with exactly
one top-level title heading.

Now tell the tale. Output just the story:`
